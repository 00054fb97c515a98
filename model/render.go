package model

import (
	"github.com/rackforge/metald/core/render"
)

// The RenderField implementations below are the attribute surface the field
// projector can see. Every case is an attribute or relation a field spec may
// name; anything else is not renderable and stays internal.

// RenderField implements render.Source.
func (n *Node) RenderField(name string) (interface{}, bool) {
	switch name {
	case "id":
		return n.ID, true
	case "name":
		return n.Name, true
	case "mac":
		return n.MAC, true
	case "fqdn":
		return n.FQDN, true
	case "ip":
		return n.IP, true
	case "manufacturer":
		return n.Manufacturer, true
	case "platform_name":
		return n.PlatformName, true
	case "os_platform":
		return n.OSPlatform, true
	case "role":
		return n.Role, true
	case "status":
		return n.Status, true
	case "progress":
		return n.Progress, true
	case "online":
		return n.Online, true
	case "pending_addition":
		return n.PendingAddition, true
	case "pending_deletion":
		return n.PendingDeletion, true
	case "error_type":
		return n.ErrorType, true
	case "cluster_id":
		if n.ClusterID == nil {
			return nil, true
		}
		return *n.ClusterID, true
	case "last_seen":
		return n.LastSeen, true
	case "meta":
		return map[string]interface{}(n.Meta), true
	case "cluster":
		if n.Cluster == nil {
			return nil, true
		}
		return render.Source(n.Cluster), true
	case "interfaces":
		return nicSources(n.Interfaces), true
	case "attributes":
		if n.Attributes == nil {
			return nil, true
		}
		return render.Source(n.Attributes), true
	}
	return nil, false
}

func nicSources(nics []*NIC) []render.Source {
	srcs := make([]render.Source, len(nics))
	for i, nic := range nics {
		srcs[i] = nic
	}
	return srcs
}

// RenderField implements render.Source.
func (nic *NIC) RenderField(name string) (interface{}, bool) {
	switch name {
	case "id":
		return nic.ID, true
	case "node_id":
		return nic.NodeID, true
	case "name":
		return nic.Name, true
	case "mac":
		return nic.MAC, true
	case "current_speed":
		return nic.CurrentSpeed, true
	case "max_speed":
		return nic.MaxSpeed, true
	case "assigned_networks":
		return groupSources(nic.AssignedNetworks), true
	case "allowed_networks":
		return groupSources(nic.AllowedNetworks), true
	}
	return nil, false
}

func groupSources(groups []*NetworkGroup) []render.Source {
	srcs := make([]render.Source, len(groups))
	for i, g := range groups {
		srcs[i] = g
	}
	return srcs
}

// RenderField implements render.Source.
func (g *NetworkGroup) RenderField(name string) (interface{}, bool) {
	switch name {
	case "id":
		return g.ID, true
	case "name":
		return g.Name, true
	case "vlan_id":
		return g.VLANID, true
	case "cidr":
		return g.CIDR, true
	case "cluster_id":
		if g.ClusterID == nil {
			return nil, true
		}
		return *g.ClusterID, true
	}
	return nil, false
}

// RenderField implements render.Source.
func (c *Cluster) RenderField(name string) (interface{}, bool) {
	switch name {
	case "id":
		return c.ID, true
	case "name":
		return c.Name, true
	case "status":
		return c.Status, true
	case "release_id":
		if c.ReleaseID == nil {
			return nil, true
		}
		return *c.ReleaseID, true
	case "pending_changes":
		return c.PendingChanges, true
	}
	return nil, false
}

// RenderField implements render.Source.
func (a *NodeAttributes) RenderField(name string) (interface{}, bool) {
	switch name {
	case "node_id":
		return a.NodeID, true
	case "volumes":
		return a.Volumes, true
	}
	return nil, false
}

// RenderField implements render.Source.
func (t *Task) RenderField(name string) (interface{}, bool) {
	switch name {
	case "id":
		return t.ID, true
	case "name":
		return t.Name, true
	case "status":
		return t.Status, true
	case "progress":
		return t.Progress, true
	case "message":
		return t.Message, true
	case "result":
		return t.Result, true
	case "cluster_id":
		if t.ClusterID == nil {
			return nil, true
		}
		return *t.ClusterID, true
	case "parent_id":
		if t.ParentID == nil {
			return nil, true
		}
		return *t.ParentID, true
	}
	return nil, false
}

// RenderField implements render.Source.
func (r *Release) RenderField(name string) (interface{}, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "name":
		return r.Name, true
	case "version":
		return r.Version, true
	case "description":
		return r.Description, true
	}
	return nil, false
}

// RenderField implements render.Source.
func (n *Notification) RenderField(name string) (interface{}, bool) {
	switch name {
	case "id":
		return n.ID, true
	case "category":
		return n.Category, true
	case "message":
		return n.Message, true
	case "node_id":
		if n.NodeID == nil {
			return nil, true
		}
		return *n.NodeID, true
	case "created_at":
		return n.CreatedAt, true
	}
	return nil, false
}
