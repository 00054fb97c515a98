package network

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
)

// InterfaceAssignment is one validated item of a NIC assignment batch:
// which networks each interface of a node should carry.
type InterfaceAssignment struct {
	NodeID     uuid.UUID
	Interfaces []NICAssignment
}

// NICAssignment maps networks onto one interface.
type NICAssignment struct {
	NICID      uuid.UUID
	NetworkIDs []uuid.UUID
}

// Conflict describes a topology violation found during verification.
type Conflict struct {
	NodeID   uuid.UUID `json:"node_id"`
	NICID    uuid.UUID `json:"nic_id"`
	Networks []string  `json:"networks"`
	Reason   string    `json:"reason"`
}

// Apply synchronizes one node's interface assignments: every listed
// interface gets exactly the listed networks, which must be in its allowed
// set. The mutated node is returned; the caller persists it. Apply is
// idempotent, replaying the same assignment changes nothing.
func (m *Manager) Apply(s storage.Session, item InterfaceAssignment) (*model.Node, error) {
	node, err := s.Node(item.NodeID)
	if err != nil {
		return nil, err
	}
	for _, assignment := range item.Interfaces {
		nic := findNIC(node, assignment.NICID)
		if nic == nil {
			return nil, fmt.Errorf("node %q has no interface %s", node.HumanReadableName(), assignment.NICID)
		}
		var assigned []*model.NetworkGroup
		for _, networkID := range assignment.NetworkIDs {
			group := findAllowed(nic, networkID)
			if group == nil {
				return nil, fmt.Errorf("network %s is not allowed on interface %q of node %q",
					networkID, nic.Name, node.HumanReadableName())
			}
			assigned = append(assigned, group.Clone())
		}
		nic.AssignedNetworks = assigned
	}
	return node, nil
}

func findNIC(node *model.Node, id uuid.UUID) *model.NIC {
	for _, nic := range node.Interfaces {
		if nic.ID == id {
			return nic
		}
	}
	return nil
}

func findAllowed(nic *model.NIC, networkID uuid.UUID) *model.NetworkGroup {
	for _, group := range nic.AllowedNetworks {
		if group.ID == networkID {
			return group
		}
	}
	return nil
}

// Verify checks a proposed assignment batch for topology violations
// without applying it. The only hard rule is that one interface cannot
// carry more than one untagged network.
func (m *Manager) Verify(s storage.Session, items []InterfaceAssignment) ([]Conflict, error) {
	var conflicts []Conflict
	for _, item := range items {
		node, err := s.Node(item.NodeID)
		if err != nil {
			return nil, err
		}
		for _, assignment := range item.Interfaces {
			nic := findNIC(node, assignment.NICID)
			if nic == nil {
				return nil, fmt.Errorf("node %q has no interface %s", node.HumanReadableName(), assignment.NICID)
			}
			var untagged []string
			for _, networkID := range assignment.NetworkIDs {
				group := findAllowed(nic, networkID)
				if group == nil {
					conflicts = append(conflicts, Conflict{
						NodeID: node.ID,
						NICID:  nic.ID,
						Reason: fmt.Sprintf("network %s is not allowed on interface %q", networkID, nic.Name),
					})
					continue
				}
				if group.Untagged() {
					untagged = append(untagged, group.Name)
				}
			}
			if len(untagged) > 1 {
				conflicts = append(conflicts, Conflict{
					NodeID:   node.ID,
					NICID:    nic.ID,
					Networks: untagged,
					Reason:   "multiple untagged networks on one interface",
				})
			}
		}
	}
	return conflicts, nil
}
