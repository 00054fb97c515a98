// Package model defines the persisted entities of the metald control plane:
// nodes, clusters, network groups, network interfaces, tasks, releases and
// notifications. Entities are plain structs; storage sessions hand out
// private copies, so mutating an entity is only visible after SaveX + Commit.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NodeStatus is the lifecycle state of a node.
type NodeStatus string

// All node lifecycle states.
const (
	NodeStatusDiscover     NodeStatus = "discover"
	NodeStatusProvisioning NodeStatus = "provisioning"
	NodeStatusProvisioned  NodeStatus = "provisioned"
	NodeStatusDeploying    NodeStatus = "deploying"
	NodeStatusReady        NodeStatus = "ready"
	NodeStatusError        NodeStatus = "error"
)

// ValidNodeStatus reports whether s is a known node status.
func ValidNodeStatus(s NodeStatus) bool {
	switch s {
	case NodeStatusDiscover, NodeStatusProvisioning, NodeStatusProvisioned,
		NodeStatusDeploying, NodeStatusReady, NodeStatusError:
		return true
	}
	return false
}

// InProgress reports whether the node is mid-operation. Derived attributes
// must not be regenerated and agent status downgrades are rejected while a
// node is in progress.
func (s NodeStatus) InProgress() bool {
	return s == NodeStatusProvisioning || s == NodeStatusDeploying
}

// Meta is the free-form hardware inventory reported by the discovery agent.
// It is persisted as a JSON blob.
type Meta map[string]interface{}

// Disks returns the physical disk entries of the inventory, one map per disk.
func (m Meta) Disks() []map[string]interface{} {
	raw, ok := m["disks"].([]interface{})
	if !ok {
		return nil
	}
	var disks []map[string]interface{}
	for _, d := range raw {
		if disk, ok := d.(map[string]interface{}); ok {
			disks = append(disks, disk)
		}
	}
	return disks
}

// Interfaces returns the network interface entries of the inventory.
func (m Meta) Interfaces() []map[string]interface{} {
	raw, ok := m["interfaces"].([]interface{})
	if !ok {
		return nil
	}
	var ifaces []map[string]interface{}
	for _, i := range raw {
		if iface, ok := i.(map[string]interface{}); ok {
			ifaces = append(ifaces, iface)
		}
	}
	return ifaces
}

// MemoryTotal returns the total memory in bytes, or false when the agent
// did not report it in a usable form.
func (m Meta) MemoryTotal() (int64, bool) {
	mem, ok := m["memory"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	switch v := mem["total"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// CPUTotal returns the number of CPU cores, or false when unknown.
func (m Meta) CPUTotal() (int, bool) {
	cpu, ok := m["cpu"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	if v, ok := cpu["total"].(float64); ok {
		return int(v), true
	}
	return 0, false
}

// Clone returns a deep copy of the meta blob.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	return Meta(cloneValue(map[string]interface{}(m)).(map[string]interface{}))
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		c := make(map[string]interface{}, len(t))
		for k, e := range t {
			c[k] = cloneValue(e)
		}
		return c
	case []interface{}:
		c := make([]interface{}, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}

// Node is a discovered bare-metal machine.
type Node struct {
	ID              uuid.UUID
	Name            string
	MAC             string
	FQDN            string
	IP              string
	Manufacturer    string
	PlatformName    string
	OSPlatform      string
	Role            string
	Status          NodeStatus
	Progress        int
	Online          bool
	PendingAddition bool
	PendingDeletion bool
	ErrorType       string
	ClusterID       *uuid.UUID
	LastSeen        time.Time
	Meta            Meta

	// Attributes holds derived per-node configuration such as the disk
	// layout. Created together with the node.
	Attributes *NodeAttributes

	// Interfaces are eager-loaded with the node.
	Interfaces []*NIC

	// Cluster is eager-loaded when the node belongs to one.
	Cluster *Cluster
}

// HumanReadableName returns the display name, falling back to the MAC
// address for nodes that were never named.
func (n *Node) HumanReadableName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.MAC
}

// AdminInterface returns the interface the node was discovered on, which
// is the one whose MAC matches the node's own. Networks are assigned to
// this interface by default.
func (n *Node) AdminInterface() *NIC {
	for _, nic := range n.Interfaces {
		if nic.MAC == n.MAC {
			return nic
		}
	}
	if len(n.Interfaces) > 0 {
		return n.Interfaces[0]
	}
	return nil
}

// Clone returns a deep copy of the node and its owned relations.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Meta = n.Meta.Clone()
	if n.ClusterID != nil {
		id := *n.ClusterID
		c.ClusterID = &id
	}
	c.Attributes = n.Attributes.Clone()
	c.Cluster = n.Cluster.Clone()
	c.Interfaces = make([]*NIC, len(n.Interfaces))
	for i, nic := range n.Interfaces {
		c.Interfaces[i] = nic.Clone()
	}
	return &c
}

// NodeAttributes carries derived node configuration, currently the volume
// layout generated from the hardware inventory.
type NodeAttributes struct {
	NodeID  uuid.UUID
	Volumes []Volume
}

// Clone returns a deep copy.
func (a *NodeAttributes) Clone() *NodeAttributes {
	if a == nil {
		return nil
	}
	c := *a
	c.Volumes = CloneVolumes(a.Volumes)
	return &c
}

// Volume is one entry of a node's derived disk layout.
type Volume struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size"`
}

// CloneVolumes returns a copy of the volume list.
func CloneVolumes(volumes []Volume) []Volume {
	if volumes == nil {
		return nil
	}
	c := make([]Volume, len(volumes))
	copy(c, volumes)
	return c
}

// NIC is a physical network interface of a node.
type NIC struct {
	ID           uuid.UUID
	NodeID       uuid.UUID
	Name         string
	MAC          string
	CurrentSpeed int
	MaxSpeed     int

	// AssignedNetworks are the network groups carried by this interface.
	AssignedNetworks []*NetworkGroup
	// AllowedNetworks are the network groups this interface may carry.
	AllowedNetworks []*NetworkGroup
}

// Clone returns a deep copy.
func (nic *NIC) Clone() *NIC {
	if nic == nil {
		return nil
	}
	c := *nic
	c.AssignedNetworks = cloneGroups(nic.AssignedNetworks)
	c.AllowedNetworks = cloneGroups(nic.AllowedNetworks)
	return &c
}

func cloneGroups(groups []*NetworkGroup) []*NetworkGroup {
	if groups == nil {
		return nil
	}
	c := make([]*NetworkGroup, len(groups))
	for i, g := range groups {
		c[i] = g.Clone()
	}
	return c
}

// AdminNetworkName is the shared discovery network every node boots on.
const AdminNetworkName = "admin"

// NetworkGroup is a logical network. Groups with a nil cluster, such as the
// admin network, are shared across all clusters.
type NetworkGroup struct {
	ID        uuid.UUID
	ClusterID *uuid.UUID
	Name      string
	// VLANID is the 802.1q tag of the network, 0 for untagged.
	VLANID int
	CIDR   string
}

// Untagged reports whether the network runs without a VLAN tag. Two
// untagged networks cannot share one interface.
func (g *NetworkGroup) Untagged() bool {
	return g.VLANID == 0
}

// Clone returns a copy.
func (g *NetworkGroup) Clone() *NetworkGroup {
	if g == nil {
		return nil
	}
	c := *g
	if g.ClusterID != nil {
		id := *g.ClusterID
		c.ClusterID = &id
	}
	return &c
}

// PendingChange marks a cluster-level change that has to be applied during
// the next deployment, optionally scoped to one node.
type PendingChange struct {
	Name   string     `json:"name"`
	NodeID *uuid.UUID `json:"node_id,omitempty"`
	Time   time.Time  `json:"time"`
}

// Cluster is a group of nodes deployed together.
type Cluster struct {
	ID             uuid.UUID
	Name           string
	ReleaseID      *uuid.UUID
	Status         string
	PendingChanges []PendingChange
}

// AddPendingChange records a pending change, once per (name, node) pair.
func (c *Cluster) AddPendingChange(name string, nodeID *uuid.UUID) {
	for _, change := range c.PendingChanges {
		if change.Name != name {
			continue
		}
		if equalIDPtr(change.NodeID, nodeID) {
			return
		}
	}
	c.PendingChanges = append(c.PendingChanges, PendingChange{
		Name:   name,
		NodeID: nodeID,
		Time:   time.Now().UTC(),
	})
}

// ClearPendingChanges drops all pending changes scoped to the given node.
func (c *Cluster) ClearPendingChanges(nodeID uuid.UUID) {
	var kept []PendingChange
	for _, change := range c.PendingChanges {
		if change.NodeID != nil && *change.NodeID == nodeID {
			continue
		}
		kept = append(kept, change)
	}
	c.PendingChanges = kept
}

func equalIDPtr(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SameCluster reports whether two cluster references point to the same
// cluster, treating two nil references as equal.
func SameCluster(a, b *uuid.UUID) bool {
	return equalIDPtr(a, b)
}

// Clone returns a deep copy.
func (c *Cluster) Clone() *Cluster {
	if c == nil {
		return nil
	}
	n := *c
	if c.ReleaseID != nil {
		id := *c.ReleaseID
		n.ReleaseID = &id
	}
	if c.PendingChanges != nil {
		n.PendingChanges = make([]PendingChange, len(c.PendingChanges))
		copy(n.PendingChanges, c.PendingChanges)
	}
	return &n
}

// TaskStatus is the state of a long-running operation.
type TaskStatus string

// All task states. Ready and error are terminal.
const (
	TaskStatusRunning TaskStatus = "running"
	TaskStatusReady   TaskStatus = "ready"
	TaskStatusError   TaskStatus = "error"
)

// Terminal reports whether the task has finished.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusReady || s == TaskStatusError
}

// Task tracks a long-running control-plane operation. Tasks form a tree;
// subtasks are cascade-deleted with their parent.
type Task struct {
	ID        uuid.UUID
	ClusterID *uuid.UUID
	ParentID  *uuid.UUID
	Name      string
	Status    TaskStatus
	Progress  int
	Message   string
	Result    map[string]interface{}
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.ClusterID != nil {
		id := *t.ClusterID
		c.ClusterID = &id
	}
	if t.ParentID != nil {
		id := *t.ParentID
		c.ParentID = &id
	}
	if t.Result != nil {
		c.Result = cloneValue(t.Result).(map[string]interface{})
	}
	return &c
}

// Release is an installable operating system distribution.
type Release struct {
	ID          uuid.UUID
	Name        string
	Version     string
	Description string
}

// Clone returns a copy.
func (r *Release) Clone() *Release {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Notification is an informational event emitted by the control plane.
type Notification struct {
	ID        uuid.UUID
	Category  string
	Message   string
	NodeID    *uuid.UUID
	CreatedAt time.Time
}

// Clone returns a copy.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	if n.NodeID != nil {
		id := *n.NodeID
		c.NodeID = &id
	}
	return &c
}
