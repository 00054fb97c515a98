package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OptionalUUID distinguishes an absent JSON field from an explicit null and
// from a concrete value. Detaching a node from its cluster is expressed as
// "cluster_id": null, which must not be confused with the field being left
// out of a partial update.
type OptionalUUID struct {
	// Defined is true when the field was present in the payload.
	Defined bool
	// Value is nil for an explicit null.
	Value *uuid.UUID
}

// UnmarshalJSON implements tri-state decoding.
func (o *OptionalUUID) UnmarshalJSON(data []byte) error {
	o.Defined = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("expected a string or null")
	}
	id, err := uuid.Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	o.Value = &id
	return nil
}

// NodeUpdate is a validated partial update of a node. Nil fields were not
// part of the payload. Validators produce NodeUpdate values; handlers apply
// them with Node.Apply.
type NodeUpdate struct {
	ID              *uuid.UUID   `json:"id"`
	MAC             *string      `json:"mac"`
	Name            *string      `json:"name"`
	FQDN            *string      `json:"fqdn"`
	IP              *string      `json:"ip"`
	Manufacturer    *string      `json:"manufacturer"`
	PlatformName    *string      `json:"platform_name"`
	OSPlatform      *string      `json:"os_platform"`
	Role            *string      `json:"role"`
	Status          *NodeStatus  `json:"status"`
	Progress        *int         `json:"progress"`
	Online          *bool        `json:"online"`
	PendingAddition *bool        `json:"pending_addition"`
	PendingDeletion *bool        `json:"pending_deletion"`
	ErrorType       *string      `json:"error_type"`
	Meta            *Meta        `json:"meta"`
	ClusterID       OptionalUUID `json:"cluster_id"`

	// IsAgent flags the update as coming from the reporting agent rather
	// than an API client. It is stripped from the payload by the validator
	// and never assigned to the node.
	IsAgent bool `json:"-"`
}

// RoleChanged reports whether applying u to n would change the role.
func (u *NodeUpdate) RoleChanged(n *Node) bool {
	return u.Role != nil && *u.Role != n.Role
}

// ClusterChanged reports whether applying u to n would change the cluster
// association. Mere presence of the field is not enough; the value has to
// differ.
func (u *NodeUpdate) ClusterChanged(n *Node) bool {
	if !u.ClusterID.Defined {
		return false
	}
	return !equalIDPtr(u.ClusterID.Value, n.ClusterID)
}

// Apply assigns every defined field of the update to the node. The agent
// status guard has to be enforced by the caller before Apply, because it
// depends on the node's current status and the update's origin.
func (n *Node) Apply(u *NodeUpdate) {
	if u.MAC != nil {
		n.MAC = *u.MAC
	}
	if u.Name != nil {
		n.Name = *u.Name
	}
	if u.FQDN != nil {
		n.FQDN = *u.FQDN
	}
	if u.IP != nil {
		n.IP = *u.IP
	}
	if u.Manufacturer != nil {
		n.Manufacturer = *u.Manufacturer
	}
	if u.PlatformName != nil {
		n.PlatformName = *u.PlatformName
	}
	if u.OSPlatform != nil {
		n.OSPlatform = *u.OSPlatform
	}
	if u.Role != nil {
		n.Role = *u.Role
	}
	if u.Status != nil {
		n.Status = *u.Status
	}
	if u.Progress != nil {
		n.Progress = *u.Progress
	}
	if u.Online != nil {
		n.Online = *u.Online
	}
	if u.PendingAddition != nil {
		n.PendingAddition = *u.PendingAddition
	}
	if u.PendingDeletion != nil {
		n.PendingDeletion = *u.PendingDeletion
	}
	if u.ErrorType != nil {
		n.ErrorType = *u.ErrorType
	}
	if u.Meta != nil {
		n.Meta = u.Meta.Clone()
	}
	if u.ClusterID.Defined {
		if u.ClusterID.Value == nil {
			n.ClusterID = nil
			n.Cluster = nil
		} else {
			id := *u.ClusterID.Value
			n.ClusterID = &id
		}
	}
}

// ReleaseUpdate is a validated partial update of a release.
type ReleaseUpdate struct {
	Name        *string `json:"name"`
	Version     *string `json:"version"`
	Description *string `json:"description"`
}

// Apply assigns every defined field of the update to the release.
func (r *Release) Apply(u *ReleaseUpdate) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Version != nil {
		r.Version = *u.Version
	}
	if u.Description != nil {
		r.Description = *u.Description
	}
}

// Touch refreshes the node's liveness timestamp.
func (n *Node) Touch(now time.Time) {
	n.LastSeen = now
}
