package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/rackforge/metald/core/render"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/network"
	"github.com/rackforge/metald/storage"
	"github.com/rackforge/metald/validation"
)

// nicFields is the response shape of one network interface, including both
// the carried and the permitted networks.
var nicFields = render.Spec{
	render.F("id"),
	render.F("name"),
	render.F("mac"),
	render.F("current_speed"),
	render.F("max_speed"),
	render.N("assigned_networks",
		render.F("id"),
		render.F("name"),
		render.F("vlan_id"),
	),
	render.N("allowed_networks",
		render.F("id"),
		render.F("name"),
		render.F("vlan_id"),
	),
}

func renderNICs(nics []*model.NIC) []map[string]interface{} {
	srcs := make([]render.Source, len(nics))
	for i, nic := range nics {
		srcs[i] = nic
	}
	return render.Collection(srcs, nicFields)
}

func (a *API) getNodeNICs(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "node_id")
	if err != nil {
		return err
	}
	node, err := s.Node(id)
	if err != nil {
		if err == storage.ErrNotFound {
			return notFound("node", id)
		}
		return err
	}
	writeJSON(w, http.StatusOK, renderNICs(node.Interfaces))
	return nil
}

// getNodeNICsDefault answers the default assignment for a node: every
// interface may carry all reachable networks, the admin interface carries
// them. The store is not touched.
func (a *API) getNodeNICsDefault(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "node_id")
	if err != nil {
		return err
	}
	node, err := s.Node(id)
	if err != nil {
		if err == storage.ErrNotFound {
			return notFound("node", id)
		}
		return err
	}
	if err := a.network.AllowAllNetworks(s, node); err != nil {
		return err
	}
	a.network.ClearAssignedNetworks(node)
	if node.AdminInterface() != nil {
		if err := a.network.AssignNetworksToAdminInterface(s, node); err != nil {
			return err
		}
	}
	// the mutated copy is never saved; the request scope discards it with
	// the session
	writeJSON(w, http.StatusOK, renderNICs(node.Interfaces))
	return nil
}

// putNodeNICsCollection applies interface assignments for many nodes in one
// request. Each assignment replaces what the listed interfaces carry;
// networks outside an interface's allowed set are rejected.
func (a *API) putNodeNICsCollection(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	items, err := a.validators.NetAssignment.ValidateCollection(s, body)
	if err != nil {
		return err
	}
	var touched []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, item := range items {
		node, err := a.network.Apply(s, item)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return err
			}
			// topology violations are the client's mistake
			return validation.Invalid("%s", err.Error())
		}
		if err := s.SaveNode(node); err != nil {
			return err
		}
		if !seen[node.ID] {
			seen[node.ID] = true
			touched = append(touched, node.ID)
		}
	}
	if err := s.Commit(); err != nil {
		return err
	}

	nodes, err := s.Nodes(storage.NodeFilter{IDs: touched})
	if err != nil {
		return err
	}
	objects := make([]map[string]interface{}, 0, len(nodes))
	for _, node := range nodes {
		objects = append(objects, map[string]interface{}{
			"id":         node.ID,
			"interfaces": renderNICs(node.Interfaces),
		})
	}
	writeJSON(w, http.StatusOK, objects)
	return nil
}

// postNodeNICsVerify checks a proposed assignment without applying it and
// answers with the conflicts found, an empty list when the topology is
// sound.
func (a *API) postNodeNICsVerify(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	items, err := a.validators.NetAssignment.ValidateCollection(s, body)
	if err != nil {
		return err
	}
	conflicts, err := a.network.Verify(s, items)
	if err != nil {
		return err
	}
	if conflicts == nil {
		conflicts = []network.Conflict{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": conflicts})
	return nil
}
