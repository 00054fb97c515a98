package api

import (
	"net/http"

	"github.com/google/uuid"
)

type releaseJSON struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
}

func (s *APITestSuite) mustCreateRelease(name, version string) releaseJSON {
	var release releaseJSON
	_, err := s.client.RawPost("/api/releases",
		map[string]interface{}{"name": name, "version": version}, &release)
	s.Require().NoError(err)
	return release
}

func (s *APITestSuite) TestReleaseLifecycle() {
	release := s.mustCreateRelease("Ubuntu", "24.04")

	var releases []releaseJSON
	_, err := s.client.RawGet("/api/releases", &releases)
	s.Require().NoError(err)
	s.Require().Len(releases, 1)

	var updated releaseJSON
	_, err = s.client.RawPut("/api/releases/"+release.ID.String(),
		map[string]interface{}{"description": "LTS"}, &updated)
	s.Require().NoError(err)
	s.Equal("LTS", updated.Description)
	s.Equal("Ubuntu", updated.Name)

	_, err = s.client.RawDelete("/api/releases/" + release.ID.String())
	s.Require().NoError(err)

	status, err := s.client.RawGet("/api/releases/"+release.ID.String(), nil)
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}

func (s *APITestSuite) TestReleaseCreationRequiresNameAndVersion() {
	for _, payload := range []map[string]interface{}{
		{"name": "Ubuntu"},
		{"version": "24.04"},
		{"name": "Ubuntu", "version": "24.04", "arch": "amd64"},
	} {
		status, err := s.client.RawPost("/api/releases", payload, nil)
		s.Error(err, "payload %v must be rejected", payload)
		s.Equal(http.StatusBadRequest, status)
	}
}

func (s *APITestSuite) TestReleaseInUseCannotBeDeleted() {
	release := s.mustCreateRelease("Debian", "13")
	var cluster clusterJSON
	_, err := s.client.RawPost("/api/clusters",
		map[string]interface{}{"name": "alpha", "release_id": release.ID.String()}, &cluster)
	s.Require().NoError(err)

	status, err := s.client.RawDelete("/api/releases/" + release.ID.String())
	s.Error(err)
	s.Equal(http.StatusConflict, status)
}
