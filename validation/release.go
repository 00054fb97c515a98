package validation

import (
	"github.com/rackforge/metald/core/schema"
	"github.com/rackforge/metald/model"
)

// ReleaseValidator validates release payloads.
type ReleaseValidator struct {
	schemas *schema.Validator
}

// Validate checks a creation payload; name and version are required.
func (v *ReleaseValidator) Validate(raw []byte) (*model.ReleaseUpdate, error) {
	if err := checkSchema(v.schemas, raw, releaseSchemaID); err != nil {
		return nil, err
	}
	var update model.ReleaseUpdate
	if err := DecodeStrict(raw, &update); err != nil {
		return nil, err
	}
	if update.Name == nil || *update.Name == "" {
		return nil, Invalid("name is required")
	}
	if update.Version == nil || *update.Version == "" {
		return nil, Invalid("version is required")
	}
	return &update, nil
}

// ValidateUpdate checks a partial update payload.
func (v *ReleaseValidator) ValidateUpdate(raw []byte) (*model.ReleaseUpdate, error) {
	if err := checkSchema(v.schemas, raw, releaseUpdateSchemaID); err != nil {
		return nil, err
	}
	var update model.ReleaseUpdate
	if err := DecodeStrict(raw, &update); err != nil {
		return nil, err
	}
	return &update, nil
}
