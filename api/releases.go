package api

import (
	"net/http"

	"github.com/rackforge/metald/core/render"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
)

var releaseFields = render.Spec{
	render.F("id"),
	render.F("name"),
	render.F("version"),
	render.F("description"),
}

func (a *API) getReleases(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	releases, err := s.Releases()
	if err != nil {
		return err
	}
	srcs := make([]render.Source, len(releases))
	for i, release := range releases {
		srcs[i] = release
	}
	writeJSON(w, http.StatusOK, render.Collection(srcs, releaseFields))
	return nil
}

func (a *API) postReleases(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	update, err := a.validators.Release.Validate(body)
	if err != nil {
		return err
	}
	release := &model.Release{}
	release.Apply(update)
	if err := s.AddRelease(release); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, render.Entity(release, releaseFields))
	return nil
}

func (a *API) loadRelease(s storage.Session, r *http.Request) (*model.Release, error) {
	id, err := pathID(r, "release_id")
	if err != nil {
		return nil, err
	}
	release, err := s.Release(id)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, notFound("release", id)
		}
		return nil, err
	}
	return release, nil
}

func (a *API) getRelease(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	release, err := a.loadRelease(s, r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, render.Entity(release, releaseFields))
	return nil
}

func (a *API) putRelease(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	release, err := a.loadRelease(s, r)
	if err != nil {
		return err
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	update, err := a.validators.Release.ValidateUpdate(body)
	if err != nil {
		return err
	}
	release.Apply(update)
	if err := s.SaveRelease(release); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, render.Entity(release, releaseFields))
	return nil
}

// deleteRelease refuses to delete a release that a cluster still uses.
func (a *API) deleteRelease(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	release, err := a.loadRelease(s, r)
	if err != nil {
		return err
	}
	clusters, err := s.Clusters()
	if err != nil {
		return err
	}
	for _, cluster := range clusters {
		if cluster.ReleaseID != nil && *cluster.ReleaseID == release.ID {
			return &ConflictError{Reason: "release is in use by cluster " + cluster.Name}
		}
	}
	if err := s.DeleteRelease(release.ID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
