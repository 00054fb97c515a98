package api

import (
	"net/http"

	"github.com/rackforge/metald/model"
)

func (s *APITestSuite) TestGetNodeAttributes() {
	node := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:de:00:01",
		"meta": testMeta("aa:bb:cc:de:00:01"),
	})

	var attributes attributesJSON
	_, err := s.client.RawGet("/api/nodes/"+node.ID.String()+"/attributes", &attributes)
	s.Require().NoError(err)
	s.Equal(node.ID, attributes.NodeID)
	s.Len(attributes.Volumes, 4)
}

func (s *APITestSuite) TestPutNodeAttributes() {
	cluster := s.mustCreateCluster("alpha")
	node := s.mustCreateNode(map[string]interface{}{
		"mac":        "aa:bb:cc:de:00:02",
		"cluster_id": cluster.ID.String(),
		"meta":       testMeta("aa:bb:cc:de:00:02"),
	})

	layout := []model.Volume{
		{Type: "disk", ID: "sda", Size: 50 << 30},
		{Type: "vg", ID: "os", Size: 10 << 30},
	}
	var attributes attributesJSON
	_, err := s.client.RawPut("/api/nodes/"+node.ID.String()+"/attributes",
		map[string]interface{}{"volumes": layout}, &attributes)
	s.Require().NoError(err)
	s.Equal(layout, attributes.Volumes)

	// the manual layout marks the cluster's disks as pending
	var fetched clusterJSON
	_, err = s.client.RawGet("/api/clusters/"+cluster.ID.String(), &fetched)
	s.Require().NoError(err)
	s.NotEmpty(fetched.PendingChanges)
}

func (s *APITestSuite) TestAttributesDefaultsDoNotPersist() {
	node := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:de:00:03",
		"meta": testMeta("aa:bb:cc:de:00:03"),
	})
	custom := []model.Volume{{Type: "disk", ID: "sda", Size: 1 << 30}}
	_, err := s.client.RawPut("/api/nodes/"+node.ID.String()+"/attributes",
		map[string]interface{}{"volumes": custom}, nil)
	s.Require().NoError(err)

	var defaults attributesJSON
	_, err = s.client.RawGet("/api/nodes/"+node.ID.String()+"/attributes/defaults", &defaults)
	s.Require().NoError(err)
	s.Len(defaults.Volumes, 4)

	// reading the defaults must not overwrite the stored layout
	var attributes attributesJSON
	_, err = s.client.RawGet("/api/nodes/"+node.ID.String()+"/attributes", &attributes)
	s.Require().NoError(err)
	s.Equal(custom, attributes.Volumes)

	// resetting does
	_, err = s.client.RawPut("/api/nodes/"+node.ID.String()+"/attributes/defaults", map[string]interface{}{}, &attributes)
	s.Require().NoError(err)
	s.Len(attributes.Volumes, 4)
}

func (s *APITestSuite) TestVolumesTypeFilter() {
	node := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:de:00:04",
		"meta": testMeta("aa:bb:cc:de:00:04"),
	})

	var layout []model.Volume
	_, err := s.client.RawGet("/api/nodes/"+node.ID.String()+"/attributes/volumes?type=disk", &layout)
	s.Require().NoError(err)
	s.Require().Len(layout, 2)
	for _, v := range layout {
		s.Equal("disk", v.Type)
	}
}

func (s *APITestSuite) TestPutVolumesMergesByType() {
	node := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:de:00:05",
		"meta": testMeta("aa:bb:cc:de:00:05"),
	})

	incoming := []model.Volume{{Type: "vg", ID: "os", Size: 5 << 30}}
	var layout []model.Volume
	_, err := s.client.RawPut("/api/nodes/"+node.ID.String()+"/attributes/volumes?type=vg", incoming, &layout)
	s.Require().NoError(err)

	// the disk entries survive, the volume groups are replaced
	disks, vgs := 0, 0
	for _, v := range layout {
		switch v.Type {
		case "disk":
			disks++
		case "vg":
			vgs++
			s.Equal(int64(5)<<30, v.Size)
		}
	}
	s.Equal(2, disks)
	s.Equal(1, vgs)
}

func (s *APITestSuite) TestPutVolumesRejectsTypeMismatch() {
	node := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:de:00:06",
		"meta": testMeta("aa:bb:cc:de:00:06"),
	})
	incoming := []model.Volume{{Type: "disk", ID: "sda", Size: 1 << 30}}
	status, err := s.client.RawPut("/api/nodes/"+node.ID.String()+"/attributes/volumes?type=vg", incoming, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestAttributesLockedWhileInProgress() {
	node := s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:de:00:07",
		"meta": testMeta("aa:bb:cc:de:00:07"),
	})
	stored := s.loadNode(node.ID)
	stored.Status = model.NodeStatusDeploying
	s.saveNode(stored)

	status, err := s.client.RawPut("/api/nodes/"+node.ID.String()+"/attributes",
		map[string]interface{}{"volumes": []model.Volume{}}, nil)
	s.Error(err)
	s.Equal(http.StatusConflict, status)
}
