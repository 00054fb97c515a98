package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/rackforge/metald/core/render"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
	"github.com/rackforge/metald/validation"
)

var clusterFields = render.Spec{
	render.F("id"),
	render.F("name"),
	render.F("status"),
	render.F("release_id"),
	render.F("pending_changes"),
}

func (a *API) getClusters(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	clusters, err := s.Clusters()
	if err != nil {
		return err
	}
	srcs := make([]render.Source, len(clusters))
	for i, cluster := range clusters {
		srcs[i] = cluster
	}
	writeJSON(w, http.StatusOK, render.Collection(srcs, clusterFields))
	return nil
}

func (a *API) getCluster(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "cluster_id")
	if err != nil {
		return err
	}
	cluster, err := s.Cluster(id)
	if err != nil {
		if err == storage.ErrNotFound {
			return notFound("cluster", id)
		}
		return err
	}
	writeJSON(w, http.StatusOK, render.Entity(cluster, clusterFields))
	return nil
}

type clusterDoc struct {
	Name      string     `json:"name"`
	ReleaseID *uuid.UUID `json:"release_id"`
}

// default networks of a new cluster. Public runs untagged, the rest on
// their own VLANs.
var defaultClusterNetworks = []model.NetworkGroup{
	{Name: "public", VLANID: 0},
	{Name: "management", VLANID: 101},
	{Name: "storage", VLANID: 102},
	{Name: "fixed", VLANID: 103},
}

// postClusters creates a cluster together with its default network groups.
func (a *API) postClusters(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	var doc clusterDoc
	if err := validation.DecodeStrict(body, &doc); err != nil {
		return err
	}
	if doc.Name == "" {
		return validation.Invalid("name is required")
	}
	if doc.ReleaseID != nil {
		if _, err := s.Release(*doc.ReleaseID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return validation.Invalid("release %s does not exist", *doc.ReleaseID)
			}
			return err
		}
	}
	clusters, err := s.Clusters()
	if err != nil {
		return err
	}
	for _, existing := range clusters {
		if existing.Name == doc.Name {
			return validation.Invalid("cluster %q already exists", doc.Name)
		}
	}

	cluster := &model.Cluster{Name: doc.Name, ReleaseID: doc.ReleaseID, Status: "new"}
	if err := s.AddCluster(cluster); err != nil {
		return err
	}
	for _, network := range defaultClusterNetworks {
		group := network
		id := cluster.ID
		group.ClusterID = &id
		if err := s.AddNetworkGroup(&group); err != nil {
			return err
		}
	}
	writeJSON(w, http.StatusCreated, render.Entity(cluster, clusterFields))
	return nil
}
