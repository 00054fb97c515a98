package api

import (
	"net/http"

	"github.com/google/uuid"
)

func (s *APITestSuite) TestCreateClusterSeedsNetworks() {
	cluster := s.mustCreateCluster("alpha")
	s.Equal("new", cluster.Status)

	// a node joining the cluster sees admin plus the four defaults
	node := s.mustCreateNode(map[string]interface{}{
		"mac":        "aa:bb:cc:df:00:01",
		"cluster_id": cluster.ID.String(),
		"meta":       testMeta("aa:bb:cc:df:00:01"),
	})
	names := map[string]bool{}
	for _, g := range node.Interfaces[0].AllowedNetworks {
		names[g.Name] = true
	}
	for _, expected := range []string{"admin", "public", "management", "storage", "fixed"} {
		s.True(names[expected], "missing network %s", expected)
	}
}

func (s *APITestSuite) TestCreateClusterRejectsDuplicateName() {
	s.mustCreateCluster("alpha")
	status, err := s.client.RawPost("/api/clusters", map[string]interface{}{"name": "alpha"}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestCreateClusterRejectsUnknownRelease() {
	status, err := s.client.RawPost("/api/clusters", map[string]interface{}{
		"name":       "alpha",
		"release_id": uuid.New().String(),
	}, nil)
	s.Error(err)
	s.Equal(http.StatusBadRequest, status)
}

func (s *APITestSuite) TestListClusters() {
	s.mustCreateCluster("alpha")
	s.mustCreateCluster("beta")

	var clusters []clusterJSON
	_, err := s.client.RawGet("/api/clusters", &clusters)
	s.Require().NoError(err)
	s.Len(clusters, 2)
}

func (s *APITestSuite) TestNotificationsAreListed() {
	s.mustCreateNode(map[string]interface{}{
		"mac":  "aa:bb:cc:df:00:02",
		"meta": testMeta("aa:bb:cc:df:00:02"),
	})

	var notifications []map[string]interface{}
	_, err := s.client.RawGet("/api/notifications", &notifications)
	s.Require().NoError(err)
	s.Require().Len(notifications, 1)
	s.Equal("discover", notifications[0]["category"])
	s.Contains(notifications[0]["message"], "discovered")
}
