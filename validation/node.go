package validation

import (
	"errors"

	"github.com/rackforge/metald/core/schema"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
)

// schema IDs of the embedded node schemas
const (
	nodeCreateSchemaID    = "https://rackforge.io/schemas/node.json"
	nodeUpdateSchemaID    = "https://rackforge.io/schemas/node_update.json"
	nodeSyncSchemaID      = "https://rackforge.io/schemas/node_collection_update.json"
	netAssignmentSchemaID = "https://rackforge.io/schemas/net_assignment.json"
	releaseSchemaID       = "https://rackforge.io/schemas/release.json"
	releaseUpdateSchemaID = "https://rackforge.io/schemas/release_update.json"
)

// NodeValidator validates node payloads.
type NodeValidator struct {
	schemas *schema.Validator
}

// nodeUpdateDoc is the wire shape of a node update. is_agent is transport
// metadata, not a node attribute, so it is split off before the update is
// handed to the caller.
type nodeUpdateDoc struct {
	model.NodeUpdate
	IsAgentField *bool `json:"is_agent"`
}

func (d *nodeUpdateDoc) toUpdate() *model.NodeUpdate {
	u := d.NodeUpdate
	u.IsAgent = d.IsAgentField != nil && *d.IsAgentField
	return &u
}

// Validate checks a creation payload: structure, required MAC, status
// domain, referenced cluster, and MAC uniqueness.
func (v *NodeValidator) Validate(s storage.Session, raw []byte) (*model.NodeUpdate, error) {
	if err := checkSchema(v.schemas, raw, nodeCreateSchemaID); err != nil {
		return nil, err
	}
	var doc nodeUpdateDoc
	if err := DecodeStrict(raw, &doc); err != nil {
		return nil, err
	}
	update := doc.toUpdate()
	if update.MAC == nil || *update.MAC == "" {
		return nil, Invalid("mac is required")
	}
	if _, err := s.NodeByMAC(*update.MAC); err == nil {
		return nil, Invalid("node with mac %s already exists", *update.MAC)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err := v.checkReferences(s, update); err != nil {
		return nil, err
	}
	return update, nil
}

// ValidateUpdate checks a partial update payload for a single node.
func (v *NodeValidator) ValidateUpdate(s storage.Session, raw []byte) (*model.NodeUpdate, error) {
	if err := checkSchema(v.schemas, raw, nodeUpdateSchemaID); err != nil {
		return nil, err
	}
	var doc nodeUpdateDoc
	if err := DecodeStrict(raw, &doc); err != nil {
		return nil, err
	}
	update := doc.toUpdate()
	if err := v.checkReferences(s, update); err != nil {
		return nil, err
	}
	return update, nil
}

// ValidateCollectionUpdate checks a batch synchronization payload. Each
// item must resolve by surrogate key (id) or natural key (mac). Resolution
// itself happens in the handler; unresolvable items fail there, except for
// agent-flagged items which may create on absence.
func (v *NodeValidator) ValidateCollectionUpdate(s storage.Session, raw []byte) ([]*model.NodeUpdate, error) {
	if err := checkSchema(v.schemas, raw, nodeSyncSchemaID); err != nil {
		return nil, err
	}
	var docs []nodeUpdateDoc
	if err := DecodeStrict(raw, &docs); err != nil {
		return nil, err
	}
	updates := make([]*model.NodeUpdate, 0, len(docs))
	for _, doc := range docs {
		update := doc.toUpdate()
		if update.ID == nil && update.MAC == nil {
			return nil, Invalid("batch item needs an id or a mac")
		}
		if err := v.checkReferences(s, update); err != nil {
			return nil, err
		}
		updates = append(updates, update)
	}
	return updates, nil
}

func (v *NodeValidator) checkReferences(s storage.Session, update *model.NodeUpdate) error {
	if update.Status != nil && !model.ValidNodeStatus(*update.Status) {
		return Invalid("unknown status %q", *update.Status)
	}
	if update.ClusterID.Defined && update.ClusterID.Value != nil {
		if _, err := s.Cluster(*update.ClusterID.Value); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Invalid("cluster %s does not exist", *update.ClusterID.Value)
			}
			return err
		}
	}
	return nil
}
