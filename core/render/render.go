// Package render projects persisted entities onto plain JSON-serializable
// maps according to a declarative field specification. A specification is a
// tree: leaves name scalar attributes, nested entries descend into related
// entities or collections with their own sub-specification.
//
// Rendering never fails for an unknown field name; the field is silently
// omitted so one bad entry cannot take down a whole response.
package render

// Source is implemented by entities that can be projected. RenderField
// returns the value of the named attribute, or false when the entity does
// not expose it. Related entities are returned as Source, related
// collections as []Source.
type Source interface {
	RenderField(name string) (interface{}, bool)
}

// Field is one entry of a specification: a leaf when Sub is nil, otherwise
// a nested projection of a related entity or collection.
type Field struct {
	Name string
	Sub  Spec
}

// Spec is an ordered field specification.
type Spec []Field

// F returns a leaf field.
func F(name string) Field {
	return Field{Name: name}
}

// N returns a nested field projecting a relation with the given sub-spec.
func N(name string, sub ...Field) Field {
	return Field{Name: name, Sub: Spec(sub)}
}

// Entity projects a single entity. The result contains at most the
// top-level names of the spec; names the entity does not resolve are left
// out.
func Entity(src Source, spec Spec) map[string]interface{} {
	if src == nil {
		return nil
	}
	object := make(map[string]interface{}, len(spec))
	for _, field := range spec {
		value, ok := src.RenderField(field.Name)
		if !ok {
			continue
		}
		if field.Sub == nil {
			object[field.Name] = value
			continue
		}
		switch related := value.(type) {
		case nil:
			object[field.Name] = nil
		case Source:
			object[field.Name] = Entity(related, field.Sub)
		case []Source:
			object[field.Name] = Collection(related, field.Sub)
		default:
			// a nested spec over a scalar is a spec bug; expose the
			// raw value rather than dropping data
			object[field.Name] = value
		}
	}
	return object
}

// Collection projects a list of entities, preserving order.
func Collection(srcs []Source, spec Spec) []map[string]interface{} {
	objects := make([]map[string]interface{}, 0, len(srcs))
	for _, src := range srcs {
		objects = append(objects, Entity(src, spec))
	}
	return objects
}
