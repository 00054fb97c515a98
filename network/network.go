// Package network reconciles node network-interface topology: which network
// groups an interface may carry, which it does carry, and what network data
// a node exposes to clients.
//
// All operations mutate the entities handed to them; persisting the result
// is the caller's job, inside its own unit of work.
package network

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
)

// Data is one entry of a node's rendered network data.
type Data struct {
	Name   string `json:"name"`
	VLANID int    `json:"vlan_id"`
	CIDR   string `json:"cidr,omitempty"`
	Dev    string `json:"dev"`
}

// Manager implements the topology operations.
type Manager struct{}

// NodeNetworks computes the network data of a single node from its
// interfaces' assigned groups. It fails when an interface carries a group
// that belongs to a different cluster than the node, which indicates the
// topology was corrupted by a concurrent change.
func (m *Manager) NodeNetworks(node *model.Node) ([]Data, error) {
	return nodeNetworks(node, nil)
}

// nodeNetworks projects one node. A non-nil index supplies the group
// metadata; without one the copies embedded in the interfaces are used.
func nodeNetworks(node *model.Node, index map[uuid.UUID]*model.NetworkGroup) ([]Data, error) {
	var data []Data
	for _, nic := range node.Interfaces {
		for _, group := range nic.AssignedNetworks {
			if fresh, ok := index[group.ID]; ok {
				group = fresh
			}
			if err := checkGroupScope(node, group); err != nil {
				return nil, err
			}
			data = append(data, Data{
				Name:   group.Name,
				VLANID: group.VLANID,
				CIDR:   group.CIDR,
				Dev:    nic.Name,
			})
		}
	}
	return data, nil
}

func checkGroupScope(node *model.Node, group *model.NetworkGroup) error {
	if group.ClusterID == nil {
		return nil
	}
	if node.ClusterID == nil || *node.ClusterID != *group.ClusterID {
		return fmt.Errorf("interface of node %q carries network %q of a foreign cluster",
			node.HumanReadableName(), group.Name)
	}
	return nil
}

// NodeNetworksBatch computes network data for a whole collection at once.
// Group metadata is fetched once for the shared groups and once per distinct
// cluster, and every node projects against that single index, so a large
// collection does not fan out into per-node queries. Nodes whose topology
// fails to resolve are absent from the result.
func (m *Manager) NodeNetworksBatch(s storage.Session, nodes []*model.Node) (map[uuid.UUID][]Data, error) {
	index := map[uuid.UUID]*model.NetworkGroup{}
	shared, err := s.NetworkGroups(nil)
	if err != nil {
		return nil, err
	}
	for _, g := range shared {
		index[g.ID] = g
	}
	seen := map[uuid.UUID]bool{}
	for _, node := range nodes {
		if node.ClusterID == nil || seen[*node.ClusterID] {
			continue
		}
		seen[*node.ClusterID] = true
		groups, err := s.NetworkGroups(node.ClusterID)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			index[g.ID] = g
		}
	}

	result := make(map[uuid.UUID][]Data, len(nodes))
	for _, node := range nodes {
		data, err := nodeNetworks(node, index)
		if err != nil {
			continue
		}
		result[node.ID] = data
	}
	return result, nil
}

// AllowAllNetworks grants every network group reachable from the node's
// cluster to all interfaces. Called when a node joins a cluster.
func (m *Manager) AllowAllNetworks(s storage.Session, node *model.Node) error {
	groups, err := s.NetworkGroups(node.ClusterID)
	if err != nil {
		return err
	}
	for _, nic := range node.Interfaces {
		nic.AllowedNetworks = cloneGroupList(groups)
	}
	return nil
}

// AssignNetworksToAdminInterface assigns all reachable network groups to
// the node's admin interface, the one the node was discovered on.
func (m *Manager) AssignNetworksToAdminInterface(s storage.Session, node *model.Node) error {
	admin := node.AdminInterface()
	if admin == nil {
		return fmt.Errorf("node %q has no interfaces", node.HumanReadableName())
	}
	groups, err := s.NetworkGroups(node.ClusterID)
	if err != nil {
		return err
	}
	admin.AssignedNetworks = cloneGroupList(groups)
	return nil
}

// ClearAssignedNetworks removes all network assignments from the node's
// interfaces. Called when a node leaves its cluster.
func (m *Manager) ClearAssignedNetworks(node *model.Node) {
	for _, nic := range node.Interfaces {
		nic.AssignedNetworks = nil
	}
}

// ClearAllowedNetworks revokes assignment eligibility from all interfaces.
func (m *Manager) ClearAllowedNetworks(node *model.Node) {
	for _, nic := range node.Interfaces {
		nic.AllowedNetworks = nil
	}
}

func cloneGroupList(groups []*model.NetworkGroup) []*model.NetworkGroup {
	cloned := make([]*model.NetworkGroup, len(groups))
	for i, g := range groups {
		cloned[i] = g.Clone()
	}
	return cloned
}

// SyncInterfacesFromMeta reconciles the node's interface records with the
// interfaces reported in the hardware inventory, matching by MAC address.
// New interfaces are created, known ones refreshed. Vanished interfaces are
// dropped unless they still carry network assignments.
func (m *Manager) SyncInterfacesFromMeta(node *model.Node) {
	reported := map[string]map[string]interface{}{}
	for _, iface := range node.Meta.Interfaces() {
		mac, _ := iface["mac"].(string)
		if mac != "" {
			reported[mac] = iface
		}
	}
	if len(reported) == 0 {
		return
	}

	var kept []*model.NIC
	for _, nic := range node.Interfaces {
		iface, ok := reported[nic.MAC]
		if !ok {
			if len(nic.AssignedNetworks) > 0 {
				kept = append(kept, nic)
			}
			continue
		}
		applyMetaInterface(nic, iface)
		kept = append(kept, nic)
		delete(reported, nic.MAC)
	}
	for mac, iface := range reported {
		nic := &model.NIC{NodeID: node.ID, MAC: mac}
		applyMetaInterface(nic, iface)
		kept = append(kept, nic)
	}
	node.Interfaces = kept
}

func applyMetaInterface(nic *model.NIC, iface map[string]interface{}) {
	if name, ok := iface["name"].(string); ok {
		nic.Name = name
	}
	if speed, ok := iface["current_speed"].(float64); ok {
		nic.CurrentSpeed = int(speed)
	}
	if speed, ok := iface["max_speed"].(float64); ok {
		nic.MaxSpeed = int(speed)
	}
}
