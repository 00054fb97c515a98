package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rackforge/metald/core/logger"
	"github.com/rackforge/metald/core/render"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/notify"
	"github.com/rackforge/metald/storage"
	"github.com/rackforge/metald/validation"
)

// nodeFields is the response shape of a node. Network data is not a
// projected field, it is computed and injected by renderNode.
var nodeFields = render.Spec{
	render.F("id"),
	render.F("name"),
	render.F("mac"),
	render.F("fqdn"),
	render.F("ip"),
	render.F("manufacturer"),
	render.F("platform_name"),
	render.F("os_platform"),
	render.F("role"),
	render.F("status"),
	render.F("progress"),
	render.F("online"),
	render.F("pending_addition"),
	render.F("pending_deletion"),
	render.F("error_type"),
	render.F("cluster_id"),
	render.F("last_seen"),
	render.F("meta"),
	render.N("cluster",
		render.F("id"),
		render.F("name"),
		render.F("status"),
		render.F("release_id"),
	),
	render.N("interfaces",
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
	),
	render.N("attributes",
		render.F("node_id"),
		render.F("volumes"),
	),
}

// renderNode projects one node, including its computed network data. A node
// whose topology cannot be resolved renders as nil; the single-node getters
// still answer, the collection getter drops the entry.
func (a *API) renderNode(rlog *logrus.Entry, node *model.Node) map[string]interface{} {
	object := render.Entity(node, nodeFields)
	data, err := a.network.NodeNetworks(node)
	if err != nil {
		rlog.WithError(err).Warnf("cannot resolve network data of node %q", node.HumanReadableName())
		return nil
	}
	object["network_data"] = data
	return object
}

// renderNodes projects a collection. Network data is computed in one batch
// so large collections do not fan out into per-node group queries; nodes
// whose topology fails to resolve are dropped from the response rather than
// failing it.
func (a *API) renderNodes(s storage.Session, rlog *logrus.Entry, nodes []*model.Node) ([]map[string]interface{}, error) {
	networkData, err := a.network.NodeNetworksBatch(s, nodes)
	if err != nil {
		return nil, err
	}
	objects := make([]map[string]interface{}, 0, len(nodes))
	for _, node := range nodes {
		data, ok := networkData[node.ID]
		if !ok {
			rlog.Warnf("dropping node %q from collection: unresolvable network topology", node.HumanReadableName())
			continue
		}
		object := render.Entity(node, nodeFields)
		object["network_data"] = data
		objects = append(objects, object)
	}
	return objects, nil
}

func (a *API) getNodes(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	rlog := logger.FromContext(r.Context())
	scope, err := clusterScopeFromRequest(r)
	if err != nil {
		return err
	}
	nodes, err := s.Nodes(storage.NodeFilter{Cluster: scope})
	if err != nil {
		return err
	}
	objects, err := a.renderNodes(s, rlog, nodes)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, objects)
	return nil
}

func (a *API) postNodes(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	rlog := logger.FromContext(r.Context())
	body, err := readBody(r)
	if err != nil {
		return err
	}
	update, err := a.validators.Node.Validate(s, body)
	if err != nil {
		return err
	}
	node, err := a.createNode(s, rlog, update)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, a.renderNode(rlog, node))
	return nil
}

// createNode realizes a validated creation payload: defaults, interface
// sync, cluster side effects, best-effort volume layout, discovery
// notification. Shared between POST and agent-driven creation in the batch
// synchronizer.
func (a *API) createNode(s storage.Session, rlog *logrus.Entry, update *model.NodeUpdate) (*model.Node, error) {
	node := &model.Node{Status: model.NodeStatusDiscover}
	node.Apply(update)
	if node.Name == "" {
		node.Name = fmt.Sprintf("Untitled (%s)", shortMAC(node.MAC))
	}
	node.Touch(time.Now().UTC())
	if err := s.AddNode(node); err != nil {
		return nil, err
	}
	node.Attributes = &model.NodeAttributes{NodeID: node.ID}
	a.network.SyncInterfacesFromMeta(node)
	if node.ClusterID != nil {
		if err := a.joinCluster(s, node); err != nil {
			return nil, err
		}
	}
	if err := s.SaveNode(node); err != nil {
		return nil, err
	}
	if err := s.Commit(); err != nil {
		return nil, err
	}

	// volume layout is best effort; a node without usable disk inventory
	// is still created
	a.regenerateVolumes(s, rlog, node)
	if err := s.SaveNode(node); err != nil {
		return nil, err
	}
	if err := s.Commit(); err != nil {
		return nil, err
	}
	if fresh, err := s.Node(node.ID); err == nil {
		node = fresh
	}
	a.notifyDiscovered(node)
	return node, nil
}

// shortMAC returns the tail of a MAC address used in default node names.
func shortMAC(mac string) string {
	if len(mac) <= 5 {
		return mac
	}
	return mac[len(mac)-5:]
}

func (a *API) notifyDiscovered(node *model.Node) {
	cores := "unknown"
	if c, ok := node.Meta.CPUTotal(); ok {
		cores = strconv.Itoa(c)
	}
	memory := "unknown"
	if m, ok := node.Meta.MemoryTotal(); ok {
		memory = fmt.Sprintf("%.1f", float64(m)/float64(int64(1)<<30))
	}
	a.notifier.Notify(notify.CategoryDiscover,
		fmt.Sprintf("New node with %s CPU core(s) and %s GB memory is discovered", cores, memory),
		&node.ID)
}

// regenerateVolumes rebuilds the node's volume layout from its inventory.
// Failure is logged and reported as an error notification but never
// propagated. A successful rebuild marks the disks of the node's cluster as
// pending redeployment.
func (a *API) regenerateVolumes(s storage.Session, rlog *logrus.Entry, node *model.Node) {
	layout, err := a.volumes.Generate(node)
	if err != nil {
		message := fmt.Sprintf("Failed to generate volumes for node %q: %s", node.HumanReadableName(), err)
		rlog.Warn(message)
		a.notifier.Notify(notify.CategoryError, message, &node.ID)
		return
	}
	if node.Attributes == nil {
		node.Attributes = &model.NodeAttributes{NodeID: node.ID}
	}
	node.Attributes.Volumes = layout
	a.markDisksPending(s, rlog, node)
}

func (a *API) markDisksPending(s storage.Session, rlog *logrus.Entry, node *model.Node) {
	if node.ClusterID == nil {
		return
	}
	cluster, err := s.Cluster(*node.ClusterID)
	if err != nil {
		rlog.WithError(err).Warnf("cannot record pending disk change for node %q", node.HumanReadableName())
		return
	}
	cluster.AddPendingChange("disks", &node.ID)
	if err := s.SaveCluster(cluster); err != nil {
		rlog.WithError(err).Warnf("cannot record pending disk change for node %q", node.HumanReadableName())
	}
}

// joinCluster grants the new cluster's networks: every interface may carry
// them, the admin interface does carry them.
func (a *API) joinCluster(s storage.Session, node *model.Node) error {
	if err := a.network.AllowAllNetworks(s, node); err != nil {
		return err
	}
	if node.AdminInterface() == nil {
		// a node without interfaces can still join; networks are
		// assigned once the agent reports its inventory
		return nil
	}
	return a.network.AssignNetworksToAdminInterface(s, node)
}

// leaveCluster revokes the old cluster's networks from all interfaces.
func (a *API) leaveCluster(node *model.Node) {
	a.network.ClearAssignedNetworks(node)
	a.network.ClearAllowedNetworks(node)
}

func (a *API) getNode(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	rlog := logger.FromContext(r.Context())
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
	writeJSON(w, http.StatusOK, a.renderNode(rlog, node))
	return nil
}

// postNodeHeartbeat is the agent's keepalive. It refreshes the liveness
// timestamp and announces the offline-to-online edge exactly once.
func (a *API) postNodeHeartbeat(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	rlog := logger.FromContext(r.Context())
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
	a.markOnline(node)
	if err := s.SaveNode(node); err != nil {
		return err
	}
	if err := s.Commit(); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, a.renderNode(rlog, node))
	return nil
}

func (a *API) markOnline(node *model.Node) {
	node.Touch(time.Now().UTC())
	if node.Online {
		return
	}
	node.Online = true
	a.notifier.Notify(notify.CategoryDiscover,
		fmt.Sprintf("Node %q is back online", node.HumanReadableName()), &node.ID)
}

func (a *API) putNode(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	rlog := logger.FromContext(r.Context())
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
	body, err := readBody(r)
	if err != nil {
		return err
	}
	update, err := a.validators.Node.ValidateUpdate(s, body)
	if err != nil {
		return err
	}
	if err := a.applyNodeUpdate(s, rlog, node, update); err != nil {
		return err
	}
	if err := s.SaveNode(node); err != nil {
		return err
	}
	if err := s.Commit(); err != nil {
		return err
	}
	node, err = s.Node(node.ID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, a.renderNode(rlog, node))
	return nil
}

// applyNodeUpdate applies a validated update and replays its side effects.
// Side effects key off value transitions, not field presence: re-sending
// the current cluster or role is a no-op, which makes updates replayable.
func (a *API) applyNodeUpdate(s storage.Session, rlog *logrus.Entry, node *model.Node, update *model.NodeUpdate) error {
	// an agent cannot move a node back to discovery once provisioning has
	// started; the stale status report is dropped, the rest of the update
	// still applies
	if update.IsAgent && update.Status != nil &&
		*update.Status == model.NodeStatusDiscover && node.Status == model.NodeStatusProvisioning {
		rlog.Debugf("node %q is already provisioning, agent status report ignored", node.HumanReadableName())
		update.Status = nil
	}

	roleChanged := update.RoleChanged(node)
	clusterChanged := update.ClusterChanged(node)
	oldCluster := node.ClusterID

	if update.IsAgent {
		a.markOnline(node)
	}

	if clusterChanged && oldCluster != nil {
		// forget node-scoped pending changes of the cluster left behind
		cluster, err := s.Cluster(*oldCluster)
		if err != nil {
			return err
		}
		cluster.ClearPendingChanges(node.ID)
		if err := s.SaveCluster(cluster); err != nil {
			return err
		}
	}

	node.Apply(update)
	if node.Attributes == nil {
		node.Attributes = &model.NodeAttributes{NodeID: node.ID}
	}
	if update.IsAgent && update.Meta != nil {
		a.network.SyncInterfacesFromMeta(node)
	}

	if clusterChanged {
		a.leaveCluster(node)
		if node.ClusterID != nil {
			if err := a.joinCluster(s, node); err != nil {
				return err
			}
		}
	}

	if !node.Status.InProgress() {
		if roleChanged || clusterChanged || a.volumes.NeedsRegeneration(node) {
			a.regenerateVolumes(s, rlog, node)
		}
	}
	return nil
}

func (a *API) deleteNode(s storage.Session, w http.ResponseWriter, r *http.Request) error {
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
	if node.ClusterID != nil {
		cluster, err := s.Cluster(*node.ClusterID)
		if err == nil {
			cluster.ClearPendingChanges(node.ID)
			if err := s.SaveCluster(cluster); err != nil {
				return err
			}
		}
	}
	if err := s.DeleteNode(id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// putNodes synchronizes a whole collection in one request. Items resolve by
// mac when they carry one, by id otherwise; agent-flagged items may create
// on absence, everything else must resolve. Each item commits before the next is processed, so a late
// failure does not undo earlier items. The response carries every touched
// node exactly once.
func (a *API) putNodes(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	rlog := logger.FromContext(r.Context())
	body, err := readBody(r)
	if err != nil {
		return err
	}
	updates, err := a.validators.Node.ValidateCollectionUpdate(s, body)
	if err != nil {
		return err
	}

	var touched []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, update := range updates {
		node, err := a.resolveBatchItem(s, rlog, update)
		if err != nil {
			return err
		}
		if node == nil {
			continue
		}
		if !seen[node.ID] {
			seen[node.ID] = true
			touched = append(touched, node.ID)
		}
		if err := s.Commit(); err != nil {
			return err
		}
	}

	nodes, err := s.Nodes(storage.NodeFilter{IDs: touched})
	if err != nil {
		return err
	}
	objects, err := a.renderNodes(s, rlog, nodes)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, objects)
	return nil
}

func (a *API) resolveBatchItem(s storage.Session, rlog *logrus.Entry, update *model.NodeUpdate) (*model.Node, error) {
	var node *model.Node
	var err error
	switch {
	case update.MAC != nil:
		// the mac is the natural key agents report by; it wins over a
		// stale surrogate id
		node, err = s.NodeByMAC(*update.MAC)
		if err == storage.ErrNotFound {
			if update.IsAgent {
				return a.createNode(s, rlog, update)
			}
			return nil, validation.Invalid("node with mac %s does not exist", *update.MAC)
		}
	default:
		node, err = s.Node(*update.ID)
		if err == storage.ErrNotFound {
			return nil, notFound("node", *update.ID)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := a.applyNodeUpdate(s, rlog, node, update); err != nil {
		return nil, err
	}
	if err := s.SaveNode(node); err != nil {
		return nil, err
	}
	return node, nil
}
