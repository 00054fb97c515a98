// Package api implements the REST resource handlers of the metald control
// plane. Every handler runs inside a transactional request scope: a storage
// session is opened per request, committed on success and on well-formed
// protocol errors, rolled back on anything unexpected, and always
// invalidated at the end so no request can serve stale cached rows.
package api

import (
	"context"

	"github.com/gorilla/mux"

	"github.com/rackforge/metald/core/logger"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/network"
	"github.com/rackforge/metald/notify"
	"github.com/rackforge/metald/storage"
	"github.com/rackforge/metald/validation"
	"github.com/rackforge/metald/volumes"
)

// API is the REST layer over the store.
type API struct {
	store      storage.Store
	notifier   notify.Notifier
	validators *validation.Set
	network    *network.Manager
	volumes    *volumes.Manager
}

// Builder assembles an API.
type Builder struct {
	// Store is the entity store. This is mandatory.
	Store storage.Store
	// Router is a mux router the handlers are added to. This is mandatory.
	Router *mux.Router
	// Notifier receives control-plane notifications. This is optional.
	Notifier notify.Notifier
	// Volumes overrides the volume manager, mainly to inject a custom
	// layout-staleness policy. This is optional.
	Volumes *volumes.Manager
}

// MustNew realizes the API: it compiles the validators, seeds the shared
// admin network and registers all routes. It panics on invalid
// configuration, like a malformed embedded schema.
func MustNew(bb *Builder) *API {
	if bb.Store == nil {
		panic("Store is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	validators, err := validation.New()
	if err != nil {
		panic(err)
	}
	a := &API{
		store:      bb.Store,
		notifier:   bb.Notifier,
		validators: validators,
		network:    &network.Manager{},
		volumes:    bb.Volumes,
	}
	if a.notifier == nil {
		a.notifier = notify.Multi{}
	}
	if a.volumes == nil {
		a.volumes = &volumes.Manager{}
	}
	if err := a.seedAdminNetwork(); err != nil {
		panic(err)
	}
	a.handleRoutes(bb.Router)
	return a
}

// seedAdminNetwork makes sure the shared admin network group exists. It is
// the network every node is discovered on and the default assignment target
// of the admin interface.
func (a *API) seedAdminNetwork() error {
	s, err := a.store.Begin(context.Background())
	if err != nil {
		return err
	}
	defer s.Invalidate()
	groups, err := s.NetworkGroups(nil)
	if err != nil {
		s.Rollback()
		return err
	}
	for _, g := range groups {
		if g.Name == model.AdminNetworkName {
			return s.Commit()
		}
	}
	err = s.AddNetworkGroup(&model.NetworkGroup{Name: model.AdminNetworkName})
	if err == nil {
		err = s.Commit()
	}
	if err != nil {
		s.Rollback()
		return err
	}
	return nil
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("api: handle routes")
	logger.AddRequestID(router)

	r := router.PathPrefix("/api").Subrouter()

	// the literal interface collection routes must be registered before
	// the parameterized single-node routes, mux matches in order
	r.HandleFunc("/nodes/interfaces", a.scope(a.putNodeNICsCollection)).Methods("PUT")
	r.HandleFunc("/nodes/interfaces/verify", a.scope(a.postNodeNICsVerify)).Methods("POST")

	r.HandleFunc("/nodes", a.scope(a.getNodes)).Methods("GET")
	r.HandleFunc("/nodes", a.scope(a.postNodes)).Methods("POST")
	r.HandleFunc("/nodes", a.scope(a.putNodes)).Methods("PUT")
	r.HandleFunc("/nodes/{node_id}", a.scope(a.getNode)).Methods("GET")
	r.HandleFunc("/nodes/{node_id}", a.scope(a.postNodeHeartbeat)).Methods("POST")
	r.HandleFunc("/nodes/{node_id}", a.scope(a.putNode)).Methods("PUT")
	r.HandleFunc("/nodes/{node_id}", a.scope(a.deleteNode)).Methods("DELETE")

	r.HandleFunc("/nodes/{node_id}/attributes", a.scope(a.getNodeAttributes)).Methods("GET")
	r.HandleFunc("/nodes/{node_id}/attributes", a.scope(a.putNodeAttributes)).Methods("PUT")
	r.HandleFunc("/nodes/{node_id}/attributes/defaults", a.scope(a.getNodeAttributesDefaults)).Methods("GET")
	r.HandleFunc("/nodes/{node_id}/attributes/defaults", a.scope(a.putNodeAttributesDefaults)).Methods("PUT")
	r.HandleFunc("/nodes/{node_id}/attributes/volumes", a.scope(a.getNodeVolumes)).Methods("GET")
	r.HandleFunc("/nodes/{node_id}/attributes/volumes", a.scope(a.putNodeVolumes)).Methods("PUT")

	r.HandleFunc("/nodes/{node_id}/interfaces", a.scope(a.getNodeNICs)).Methods("GET")
	r.HandleFunc("/nodes/{node_id}/interfaces/default_assignment", a.scope(a.getNodeNICsDefault)).Methods("GET")

	r.HandleFunc("/clusters", a.scope(a.getClusters)).Methods("GET")
	r.HandleFunc("/clusters", a.scope(a.postClusters)).Methods("POST")
	r.HandleFunc("/clusters/{cluster_id}", a.scope(a.getCluster)).Methods("GET")

	r.HandleFunc("/tasks", a.scope(a.getTasks)).Methods("GET")
	r.HandleFunc("/tasks/{task_id}", a.scope(a.getTask)).Methods("GET")
	r.HandleFunc("/tasks/{task_id}", a.scope(a.deleteTask)).Methods("DELETE")

	r.HandleFunc("/releases", a.scope(a.getReleases)).Methods("GET")
	r.HandleFunc("/releases", a.scope(a.postReleases)).Methods("POST")
	r.HandleFunc("/releases/{release_id}", a.scope(a.getRelease)).Methods("GET")
	r.HandleFunc("/releases/{release_id}", a.scope(a.putRelease)).Methods("PUT")
	r.HandleFunc("/releases/{release_id}", a.scope(a.deleteRelease)).Methods("DELETE")

	r.HandleFunc("/notifications", a.scope(a.getNotifications)).Methods("GET")
}
