package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/rackforge/metald/core/client"
	"github.com/rackforge/metald/storage"
	"github.com/rackforge/metald/storage/memstore"
)

func (s *APITestSuite) clusterNode(mac string) nodeJSON {
	cluster := s.mustCreateCluster("net-" + mac[len(mac)-2:])
	return s.mustCreateNode(map[string]interface{}{
		"mac":        mac,
		"cluster_id": cluster.ID.String(),
		"meta":       testMeta(mac, "ff:"+mac[3:]),
	})
}

func assignmentPayload(node nodeJSON, nicID uuid.UUID, groups []groupJSON) []map[string]interface{} {
	assigned := make([]map[string]interface{}, len(groups))
	for i, g := range groups {
		assigned[i] = map[string]interface{}{"id": g.ID.String(), "name": g.Name}
	}
	return []map[string]interface{}{{
		"id": node.ID.String(),
		"interfaces": []map[string]interface{}{{
			"id":                nicID.String(),
			"assigned_networks": assigned,
		}},
	}}
}

func (s *APITestSuite) TestGetNodeInterfaces() {
	node := s.clusterNode("aa:bb:cc:dd:ff:01")

	var nics []nicJSON
	_, err := s.client.RawGet("/api/nodes/"+node.ID.String()+"/interfaces", &nics)
	s.Require().NoError(err)
	s.Len(nics, 2)
	for _, nic := range nics {
		s.Len(nic.AllowedNetworks, 5)
	}
}

func (s *APITestSuite) TestAssignNetworksToSecondInterface() {
	node := s.clusterNode("aa:bb:cc:dd:ff:02")
	second := node.Interfaces[1]
	if second.MAC == node.MAC {
		second = node.Interfaces[0]
	}
	s.Require().Empty(second.AssignedNetworks)

	// move one allowed network onto the second interface
	payload := assignmentPayload(node, second.ID, second.AllowedNetworks[:1])
	var result []struct {
		ID         uuid.UUID `json:"id"`
		Interfaces []nicJSON `json:"interfaces"`
	}
	_, err := s.client.RawPut("/api/nodes/interfaces", payload, &result)
	s.Require().NoError(err)
	s.Require().Len(result, 1)

	var nics []nicJSON
	_, err = s.client.RawGet("/api/nodes/"+node.ID.String()+"/interfaces", &nics)
	s.Require().NoError(err)
	for _, nic := range nics {
		if nic.ID == second.ID {
			s.Len(nic.AssignedNetworks, 1)
		}
	}
}

func (s *APITestSuite) TestAssignmentIsIdempotent() {
	node := s.clusterNode("aa:bb:cc:dd:ff:03")
	admin := node.Interfaces[0]
	if admin.MAC != node.MAC {
		admin = node.Interfaces[1]
	}
	payload := assignmentPayload(node, admin.ID, admin.AssignedNetworks)

	for i := 0; i < 2; i++ {
		_, err := s.client.RawPut("/api/nodes/interfaces", payload, nil)
		s.Require().NoError(err)
	}
	var nics []nicJSON
	_, err := s.client.RawGet("/api/nodes/"+node.ID.String()+"/interfaces", &nics)
	s.Require().NoError(err)
	for _, nic := range nics {
		if nic.ID == admin.ID {
			s.Len(nic.AssignedNetworks, len(admin.AssignedNetworks))
		}
	}
}

func (s *APITestSuite) TestAssignmentRejectsNetworkOutsideAllowedSet() {
	node := s.clusterNode("aa:bb:cc:dd:ff:04")
	detached := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:dd:ff:05",
		"meta": testMeta("aa:bb:cc:dd:ff:05"),
	})

	// the detached node has no allowed networks at all
	payload := assignmentPayload(detached, detached.Interfaces[0].ID,
		node.Interfaces[0].AllowedNetworks[:1])
	status, err := s.client.RawPut("/api/nodes/interfaces", payload, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestAssignmentRejectsForeignInterface() {
	node := s.clusterNode("aa:bb:cc:dd:ff:06")
	payload := assignmentPayload(node, uuid.New(), node.Interfaces[0].AllowedNetworks[:1])
	status, err := s.client.RawPut("/api/nodes/interfaces", payload, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestVerifyFlagsTwoUntaggedNetworks() {
	node := s.clusterNode("aa:bb:cc:dd:ff:07")
	nic := node.Interfaces[0]

	// admin and public are both untagged; carrying them together on one
	// interface is a topology conflict
	var untagged []groupJSON
	for _, g := range nic.AllowedNetworks {
		if g.VLANID == 0 {
			untagged = append(untagged, g)
		}
	}
	s.Require().GreaterOrEqual(len(untagged), 2)

	var verdict struct {
		Conflicts []map[string]interface{} `json:"conflicts"`
	}
	_, err := s.client.RawPostOK("/api/nodes/interfaces/verify",
		assignmentPayload(node, nic.ID, untagged), &verdict)
	s.Require().NoError(err)
	s.Require().Len(verdict.Conflicts, 1)
	s.Equal("multiple untagged networks on one interface", verdict.Conflicts[0]["reason"])
}

func (s *APITestSuite) TestVerifyAcceptsSoundTopology() {
	node := s.clusterNode("aa:bb:cc:dd:ff:08")
	nic := node.Interfaces[0]

	var tagged []groupJSON
	for _, g := range nic.AllowedNetworks {
		if g.VLANID != 0 {
			tagged = append(tagged, g)
		}
	}
	s.Require().NotEmpty(tagged)

	var verdict struct {
		Conflicts []map[string]interface{} `json:"conflicts"`
	}
	_, err := s.client.RawPostOK("/api/nodes/interfaces/verify",
		assignmentPayload(node, nic.ID, tagged), &verdict)
	s.Require().NoError(err)
	s.Empty(verdict.Conflicts)
}

func (s *APITestSuite) TestDefaultAssignmentDoesNotPersist() {
	node := s.clusterNode("aa:bb:cc:dd:ff:09")
	second := node.Interfaces[1]
	if second.MAC == node.MAC {
		second = node.Interfaces[0]
	}

	// strip all assignments, then ask for the defaults
	_, err := s.client.RawPut("/api/nodes/interfaces",
		assignmentPayload(node, second.ID, nil), nil)
	s.Require().NoError(err)

	var defaults []nicJSON
	_, err = s.client.RawGet("/api/nodes/"+node.ID.String()+"/interfaces/default_assignment", &defaults)
	s.Require().NoError(err)
	for _, nic := range defaults {
		if nic.MAC == node.MAC {
			s.Len(nic.AssignedNetworks, 5)
		} else {
			s.Empty(nic.AssignedNetworks)
		}
	}

	// the computed defaults were not written back
	var nics []nicJSON
	_, err = s.client.RawGet("/api/nodes/"+node.ID.String()+"/interfaces", &nics)
	s.Require().NoError(err)
	for _, nic := range nics {
		if nic.ID == second.ID {
			s.Empty(nic.AssignedNetworks)
		}
	}
}

// closingStore decorates a store with the contract of transaction-backed
// sessions: once invalidated, a session is closed and refuses Commit and
// Rollback. The plain in-memory session is more forgiving than that.
type closingStore struct {
	inner storage.Store
}

func (cs *closingStore) Begin(ctx context.Context) (storage.Session, error) {
	inner, err := cs.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &closingSession{Session: inner}, nil
}

func (cs *closingStore) Close() error {
	return cs.inner.Close()
}

type closingSession struct {
	storage.Session
	done bool
}

func (ss *closingSession) Commit() error {
	if ss.done {
		return fmt.Errorf("session is closed")
	}
	return ss.Session.Commit()
}

func (ss *closingSession) Rollback() error {
	if ss.done {
		return fmt.Errorf("session is closed")
	}
	return ss.Session.Rollback()
}

func (ss *closingSession) Invalidate() {
	ss.done = true
	ss.Session.Invalidate()
}

func (s *APITestSuite) TestDefaultAssignmentBodyIsOneDocument() {
	router := mux.NewRouter()
	MustNew(&Builder{
		Store:  &closingStore{inner: memstore.New()},
		Router: router,
	})
	c := client.NewWithRouter(router)

	var node nodeJSON
	_, err := c.RawPost("/api/nodes", map[string]interface{}{
		"mac":  "aa:bb:cc:dd:ff:10",
		"meta": testMeta("aa:bb:cc:dd:ff:10"),
	}, &node)
	s.Require().NoError(err)

	// the whole body must be one JSON document, nothing appended after it
	var raw []byte
	_, err = c.RawGet("/api/nodes/"+node.ID.String()+"/interfaces/default_assignment", &raw)
	s.Require().NoError(err)
	var defaults []nicJSON
	s.Require().NoError(json.Unmarshal(raw, &defaults), "unexpected response body: %s", raw)
	s.Require().Len(defaults, 1)
	s.Len(defaults[0].AssignedNetworks, 1)
}
