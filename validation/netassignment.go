package validation

import (
	"errors"

	"github.com/google/uuid"

	"github.com/rackforge/metald/core/schema"
	"github.com/rackforge/metald/network"
	"github.com/rackforge/metald/storage"
)

// NetAssignmentValidator validates interface-to-network assignment payloads.
type NetAssignmentValidator struct {
	schemas *schema.Validator
}

type netAssignmentNICDoc struct {
	ID               uuid.UUID `json:"id"`
	AssignedNetworks []struct {
		ID   uuid.UUID `json:"id"`
		Name string    `json:"name"`
	} `json:"assigned_networks"`
}

type netAssignmentNodeDoc struct {
	ID         uuid.UUID             `json:"id"`
	Interfaces []netAssignmentNICDoc `json:"interfaces"`
}

// ValidateCollection checks a batch of per-node interface assignments:
// structure, node existence, and that every referenced interface belongs to
// its node. Whether a network is allowed on an interface is enforced when
// the assignment is applied.
func (v *NetAssignmentValidator) ValidateCollection(s storage.Session, raw []byte) ([]network.InterfaceAssignment, error) {
	items, err := v.ValidateStructure(raw)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		node, err := s.Node(item.NodeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, Invalid("node %s does not exist", item.NodeID)
			}
			return nil, err
		}
		for _, assignment := range item.Interfaces {
			found := false
			for _, nic := range node.Interfaces {
				if nic.ID == assignment.NICID {
					found = true
					break
				}
			}
			if !found {
				return nil, Invalid("node %s has no interface %s", item.NodeID, assignment.NICID)
			}
		}
	}
	return items, nil
}

// ValidateStructure checks only the structure of an assignment batch,
// without touching the store. Used by the verification endpoint, which
// resolves entities itself.
func (v *NetAssignmentValidator) ValidateStructure(raw []byte) ([]network.InterfaceAssignment, error) {
	if err := checkSchema(v.schemas, raw, netAssignmentSchemaID); err != nil {
		return nil, err
	}
	var docs []netAssignmentNodeDoc
	if err := DecodeStrict(raw, &docs); err != nil {
		return nil, err
	}
	items := make([]network.InterfaceAssignment, 0, len(docs))
	for _, doc := range docs {
		item := network.InterfaceAssignment{NodeID: doc.ID}
		for _, nicDoc := range doc.Interfaces {
			assignment := network.NICAssignment{NICID: nicDoc.ID}
			for _, g := range nicDoc.AssignedNetworks {
				assignment.NetworkIDs = append(assignment.NetworkIDs, g.ID)
			}
			item.Interfaces = append(item.Interfaces, assignment)
		}
		items = append(items, item)
	}
	return items, nil
}
