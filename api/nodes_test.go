package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/notify"
)

func (s *APITestSuite) TestCreateNodeDefaults() {
	node := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:dd:ee:01",
		"meta": testMeta("aa:bb:cc:dd:ee:01"),
	})

	s.Equal("Untitled (ee:01)", node.Name)
	s.Equal("discover", node.Status)
	s.Require().NotNil(node.Attributes)
	s.Len(node.Interfaces, 1)
	s.Equal("eth0", node.Interfaces[0].Name)

	// read-after-write: a fresh GET sees exactly what POST answered
	var fetched nodeJSON
	_, err := s.client.RawGet("/api/nodes/"+node.ID.String(), &fetched)
	s.Require().NoError(err)
	s.Equal(node.ID, fetched.ID)
	s.Equal(node.Name, fetched.Name)
	s.Equal(node.Attributes.Volumes, fetched.Attributes.Volumes)
}

func (s *APITestSuite) TestCreateNodeGeneratesVolumes() {
	node := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:dd:ee:02",
		"meta": testMeta("aa:bb:cc:dd:ee:02"),
	})

	// two disks plus the os and storage volume groups
	s.Require().NotNil(node.Attributes)
	s.Len(node.Attributes.Volumes, 4)
	types := map[string]int{}
	for _, v := range node.Attributes.Volumes {
		types[v.Type]++
	}
	s.Equal(2, types["disk"])
	s.Equal(2, types["vg"])
}

func (s *APITestSuite) TestCreateNodeDiscoveryNotification() {
	s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:dd:ee:03",
		"meta": testMeta("aa:bb:cc:dd:ee:03"),
	})

	s.Require().Equal(1, s.recorder.Count(notify.CategoryDiscover))
	message := s.recorder.All()[0].Message
	s.Contains(message, "8 CPU core(s)")
	s.Contains(message, "16.0 GB memory")
}

func (s *APITestSuite) TestCreateNodeWithoutInventory() {
	// a node without usable inventory is still created; the failed volume
	// generation shows up as an error notification
	node := s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:04"})

	s.Equal("Untitled (ee:04)", node.Name)
	s.Empty(node.Attributes.Volumes)
	s.Equal(1, s.recorder.Count(notify.CategoryError))

	entries := s.recorder.All()
	s.Require().Len(entries, 2)
	s.Equal(notify.CategoryDiscover, entries[1].Category)
	s.Contains(entries[1].Message, "unknown CPU core(s)")
	s.Contains(entries[1].Message, "unknown GB memory")
}

func (s *APITestSuite) TestCreateNodeRejectsDuplicateMAC() {
	s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:05"})
	status, err := s.client.RawPost("/api/nodes",
		map[string]interface{}{"mac": "aa:bb:cc:dd:ee:05"}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestCreateNodeRejectsMalformedPayloads() {
	cases := []map[string]interface{}{
		{},                               // missing mac
		{"mac": "not-a-mac"},             // malformed mac
		{"mac": "aa:bb:cc:dd:ee:06", "status": "impossible"},  // unknown status
		{"mac": "aa:bb:cc:dd:ee:06", "bogus": true},           // unknown attribute
		{"mac": "aa:bb:cc:dd:ee:06", "cluster_id": "zzz"},     // malformed uuid
	}
	for _, payload := range cases {
		status, err := s.client.RawPost("/api/nodes", payload, nil)
		s.Error(err, "payload %v must be rejected", payload)
		s.Equal(http.StatusBadRequest, status)
	}

	// none of the rejected payloads left a node behind
	var nodes []nodeJSON
	_, err := s.client.RawGet("/api/nodes", &nodes)
	s.Require().NoError(err)
	s.Empty(nodes)
}

func (s *APITestSuite) TestCreateNodeRejectsUnknownCluster() {
	status, err := s.client.RawPost("/api/nodes", map[string]interface{}{
		"mac":        "aa:bb:cc:dd:ee:07",
		"cluster_id": "a73dd races",
	}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)

	status, err = s.client.RawPost("/api/nodes", map[string]interface{}{
		"mac":        "aa:bb:cc:dd:ee:07",
		"cluster_id": "c9f9c9a6-24f1-4b37-90c1-e52a9b2e3a7e",
	}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestCreateNodeInClusterAssignsNetworks() {
	cluster := s.mustCreateCluster("alpha")
	node := s.mustCreateNode(map[string]interface{}{
		"mac":        "aa:bb:cc:dd:ee:08",
		"cluster_id": cluster.ID.String(),
		"meta":       testMeta("aa:bb:cc:dd:ee:08", "aa:bb:cc:dd:ee:09"),
	})

	s.Require().Len(node.Interfaces, 2)
	for _, nic := range node.Interfaces {
		// every interface may carry all reachable networks: admin plus
		// the cluster's four defaults
		s.Len(nic.AllowedNetworks, 5)
	}
	admin := node.Interfaces[0]
	if admin.MAC != "aa:bb:cc:dd:ee:08" {
		admin = node.Interfaces[1]
	}
	s.Len(admin.AssignedNetworks, 5)
	s.NotEmpty(node.NetworkData)
}

func (s *APITestSuite) TestHeartbeatOnlineEdgeExactlyOnce() {
	node := s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:0a"})
	s.recorder.Reset()

	for i := 0; i < 3; i++ {
		_, err := s.client.RawPostOK("/api/nodes/"+node.ID.String(), map[string]interface{}{}, nil)
		s.Require().NoError(err)
	}
	// the node was created offline; only the first heartbeat is an edge
	s.Equal(1, s.recorder.Count(notify.CategoryDiscover))

	stored := s.loadNode(node.ID)
	stored.Online = false
	s.saveNode(stored)

	_, err := s.client.RawPostOK("/api/nodes/"+node.ID.String(), map[string]interface{}{}, nil)
	s.Require().NoError(err)
	s.Equal(2, s.recorder.Count(notify.CategoryDiscover))
}

func (s *APITestSuite) TestUpdateNodeRename() {
	node := s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:0b"})

	var updated nodeJSON
	_, err := s.client.RawPut("/api/nodes/"+node.ID.String(),
		map[string]interface{}{"name": "rack-7"}, &updated)
	s.Require().NoError(err)
	s.Equal("rack-7", updated.Name)

	var fetched nodeJSON
	_, err = s.client.RawGet("/api/nodes/"+node.ID.String(), &fetched)
	s.Require().NoError(err)
	s.Equal("rack-7", fetched.Name)
}

func (s *APITestSuite) TestUpdateNodeRejectsUnknownAttribute() {
	node := s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:0c"})
	status, err := s.client.RawPut("/api/nodes/"+node.ID.String(),
		map[string]interface{}{"nickname": "x"}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestUpdateNodeClusterTransitions() {
	alpha := s.mustCreateCluster("alpha")
	beta := s.mustCreateCluster("beta")
	node := s.mustCreateNode(map[string]interface{}{
		"mac":        "aa:bb:cc:dd:ee:0d",
		"cluster_id": alpha.ID.String(),
		"meta":       testMeta("aa:bb:cc:dd:ee:0d"),
	})
	s.Require().NotEmpty(node.Interfaces[0].AssignedNetworks)
	before := map[uuid.UUID]bool{}
	for _, g := range node.Interfaces[0].AssignedNetworks {
		before[g.ID] = true
	}

	// moving to another cluster revokes the old grants and issues new ones
	var moved nodeJSON
	_, err := s.client.RawPut("/api/nodes/"+node.ID.String(),
		map[string]interface{}{"cluster_id": beta.ID.String()}, &moved)
	s.Require().NoError(err)
	s.Require().NotNil(moved.ClusterID)
	s.Equal(beta.ID, *moved.ClusterID)
	s.Len(moved.Interfaces[0].AssignedNetworks, 5)
	// only the shared admin network survives the move
	shared := 0
	for _, g := range moved.Interfaces[0].AssignedNetworks {
		if before[g.ID] {
			shared++
		}
	}
	s.Equal(1, shared)

	// detaching with an explicit null revokes without granting
	var detached nodeJSON
	_, err = s.client.RawPut("/api/nodes/"+node.ID.String(),
		map[string]interface{}{"cluster_id": nil}, &detached)
	s.Require().NoError(err)
	s.Nil(detached.ClusterID)
	s.Empty(detached.Interfaces[0].AssignedNetworks)
	s.Empty(detached.Interfaces[0].AllowedNetworks)
}

func (s *APITestSuite) TestUpdateNodeOmittedClusterIsNoop() {
	alpha := s.mustCreateCluster("alpha")
	node := s.mustCreateNode(map[string]interface{}{
		"mac":        "aa:bb:cc:dd:ee:0e",
		"cluster_id": alpha.ID.String(),
		"meta":       testMeta("aa:bb:cc:dd:ee:0e"),
	})

	// a payload without cluster_id must not detach the node
	var updated nodeJSON
	_, err := s.client.RawPut("/api/nodes/"+node.ID.String(),
		map[string]interface{}{"name": "keeper"}, &updated)
	s.Require().NoError(err)
	s.Require().NotNil(updated.ClusterID)
	s.Equal(alpha.ID, *updated.ClusterID)
}

func (s *APITestSuite) TestClusterLeaveForgetsPendingChanges() {
	alpha := s.mustCreateCluster("alpha")
	node := s.mustCreateNode(map[string]interface{}{
		"mac":        "aa:bb:cc:dd:ee:0f",
		"cluster_id": alpha.ID.String(),
		"meta":       testMeta("aa:bb:cc:dd:ee:0f"),
	})

	var cluster clusterJSON
	_, err := s.client.RawGet("/api/clusters/"+alpha.ID.String(), &cluster)
	s.Require().NoError(err)
	s.Require().NotEmpty(cluster.PendingChanges)

	_, err = s.client.RawPut("/api/nodes/"+node.ID.String(),
		map[string]interface{}{"cluster_id": nil}, nil)
	s.Require().NoError(err)

	_, err = s.client.RawGet("/api/clusters/"+alpha.ID.String(), &cluster)
	s.Require().NoError(err)
	s.Empty(cluster.PendingChanges)
}

func (s *APITestSuite) TestListNodesTriStateClusterFilter() {
	alpha := s.mustCreateCluster("alpha")
	inCluster := s.mustCreateNode(map[string]interface{}{
		"mac":        "aa:bb:cc:dd:ee:10",
		"cluster_id": alpha.ID.String(),
	})
	loose := s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:11"})

	var nodes []nodeJSON
	_, err := s.client.RawGet("/api/nodes", &nodes)
	s.Require().NoError(err)
	s.Len(nodes, 2)

	_, err = s.client.RawGet("/api/nodes?cluster_id="+alpha.ID.String(), &nodes)
	s.Require().NoError(err)
	s.Require().Len(nodes, 1)
	s.Equal(inCluster.ID, nodes[0].ID)

	// an empty value filters for nodes without a cluster
	_, err = s.client.RawGet("/api/nodes?cluster_id=", &nodes)
	s.Require().NoError(err)
	s.Require().Len(nodes, 1)
	s.Equal(loose.ID, nodes[0].ID)

	status, err := s.client.RawGet("/api/nodes?cluster_id=junk", &nodes)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestDeleteNode() {
	node := s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:12"})
	_, err := s.client.RawDelete("/api/nodes/" + node.ID.String())
	s.Require().NoError(err)

	status, err := s.client.RawGet("/api/nodes/"+node.ID.String(), nil)
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}

func (s *APITestSuite) TestBatchSyncAgentGuardsProvisioning() {
	node := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:dd:ee:13",
		"meta": testMeta("aa:bb:cc:dd:ee:13"),
	})
	stored := s.loadNode(node.ID)
	stored.Status = model.NodeStatusProvisioning
	s.saveNode(stored)

	// the agent still believes the node is in discovery; its stale status
	// must not undo provisioning, the rest of the report still applies
	var result []nodeJSON
	_, err := s.client.RawPut("/api/nodes", []map[string]interface{}{{
		"mac":      "aa:bb:cc:dd:ee:13",
		"is_agent": true,
		"status":   "discover",
		"ip":       "10.20.0.7",
	}}, &result)
	s.Require().NoError(err)
	s.Require().Len(result, 1)
	s.Equal("provisioning", result[0].Status)

	fetched := s.loadNode(node.ID)
	s.Equal("10.20.0.7", fetched.IP)
}

func (s *APITestSuite) TestBatchSyncNonAgentStatusStillApplies() {
	node := s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:14"})
	stored := s.loadNode(node.ID)
	stored.Status = model.NodeStatusProvisioning
	s.saveNode(stored)

	var result []nodeJSON
	_, err := s.client.RawPut("/api/nodes", []map[string]interface{}{{
		"id":     node.ID.String(),
		"status": "discover",
	}}, &result)
	s.Require().NoError(err)
	s.Require().Len(result, 1)
	s.Equal("discover", result[0].Status)
}

func (s *APITestSuite) TestBatchSyncIsIdempotent() {
	alpha := s.mustCreateCluster("alpha")
	s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:dd:ee:15",
		"meta": testMeta("aa:bb:cc:dd:ee:15"),
	})
	payload := []map[string]interface{}{{
		"mac":        "aa:bb:cc:dd:ee:15",
		"cluster_id": alpha.ID.String(),
		"role":       "compute",
	}}

	var first, second []nodeJSON
	_, err := s.client.RawPut("/api/nodes", payload, &first)
	s.Require().NoError(err)
	_, err = s.client.RawPut("/api/nodes", payload, &second)
	s.Require().NoError(err)

	s.Require().Len(first, 1)
	s.Require().Len(second, 1)
	s.Equal(first[0].Interfaces[0].AssignedNetworks, second[0].Interfaces[0].AssignedNetworks)
	s.Equal(first[0].Attributes.Volumes, second[0].Attributes.Volumes)

	// the replay must not pile up pending changes
	var cluster clusterJSON
	_, err = s.client.RawGet("/api/clusters/"+alpha.ID.String(), &cluster)
	s.Require().NoError(err)
	s.Len(cluster.PendingChanges, 1)
}

func (s *APITestSuite) TestBatchSyncAgentCreatesOnAbsence() {
	var result []nodeJSON
	_, err := s.client.RawPut("/api/nodes", []map[string]interface{}{{
		"mac":      "aa:bb:cc:dd:ee:16",
		"is_agent": true,
		"meta":     testMeta("aa:bb:cc:dd:ee:16"),
	}}, &result)
	s.Require().NoError(err)
	s.Require().Len(result, 1)
	s.Equal("Untitled (ee:16)", result[0].Name)
	s.Equal(1, s.recorder.Count(notify.CategoryDiscover))
}

func (s *APITestSuite) TestBatchSyncResolvesByMACBeforeID() {
	node := s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:19"})

	// an item carrying both keys resolves by mac; the surrogate id may be
	// stale on the reporting side
	var result []nodeJSON
	_, err := s.client.RawPut("/api/nodes", []map[string]interface{}{{
		"id":   uuid.NewString(),
		"mac":  "aa:bb:cc:dd:ee:19",
		"role": "controller",
	}}, &result)
	s.Require().NoError(err)
	s.Require().Len(result, 1)
	s.Equal(node.ID, result[0].ID)
	s.Equal("controller", result[0].Role)
}

func (s *APITestSuite) TestBatchSyncUnknownNodeFails() {
	status, err := s.client.RawPut("/api/nodes", []map[string]interface{}{{
		"mac": "aa:bb:cc:dd:ee:17",
	}}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestBatchSyncTouchedNodesAppearOnce() {
	node := s.mustCreateNode(map[string]interface{}{"mac": "aa:bb:cc:dd:ee:18"})

	var result []nodeJSON
	_, err := s.client.RawPut("/api/nodes", []map[string]interface{}{
		{"mac": "aa:bb:cc:dd:ee:18", "role": "compute"},
		{"id": node.ID.String(), "role": "controller"},
	}, &result)
	s.Require().NoError(err)
	s.Require().Len(result, 1)
	// later items win
	s.Equal("controller", result[0].Role)
}
