// Package validation turns raw request bodies into normalized, typed
// attribute updates. Each resource type has its own validator exposing
// Validate (full-object rules for creation) and ValidateUpdate (relaxed
// partial-object rules); both reject unknown attribute names.
//
// Structural checks run against embedded JSON schemas, referential checks
// (does the referenced cluster exist, is the MAC unique) against the
// request's storage session.
package validation

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/rackforge/metald/core/schema"
)

//go:embed *.json
var schemaFS embed.FS

// Error is a validation failure with a human-readable reason. Handlers map
// it to a bad-request response.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// Invalid returns a validation Error.
func Invalid(format string, args ...interface{}) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Set bundles the per-resource validators over one compiled schema set.
type Set struct {
	Node          *NodeValidator
	Release       *ReleaseValidator
	NetAssignment *NetAssignmentValidator
}

// New compiles the embedded schemas and returns the validator set.
func New() (*Set, error) {
	schemas, err := schema.NewValidatorFromFS(schemaFS)
	if err != nil {
		return nil, err
	}
	return &Set{
		Node:          &NodeValidator{schemas: schemas},
		Release:       &ReleaseValidator{schemas: schemas},
		NetAssignment: &NetAssignmentValidator{schemas: schemas},
	}, nil
}

// checkSchema validates raw against the given schema ID and normalizes the
// failure into a validation Error.
func checkSchema(schemas *schema.Validator, raw []byte, schemaID string) error {
	if !json.Valid(raw) {
		return Invalid("malformed JSON")
	}
	if err := schemas.ValidateBytes(raw, schemaID); err != nil {
		return Invalid("%s", err.Error())
	}
	return nil
}

// DecodeStrict unmarshals raw into target, rejecting unknown fields. The
// failure comes back as a validation Error.
func DecodeStrict(raw []byte, target interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return Invalid("cannot decode payload: %s", err.Error())
	}
	return nil
}
