// Renders stored documents as JSON Schema.

package schema

import (
	"github.com/invopop/jsonschema"
)

// JSONSchema returns the JSON Schema of the documents stored for type name.
//
// Scalars are reflected from their Go type. References are strings holding
// the target ID and collections are arrays of such strings. The identifier is
// the table key and is not part of the document.
func (r *Registry) JSONSchema(name string) (*jsonschema.Schema, error) {
	s, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	// Inline properties (no $ref), like the table schema headers.
	ref := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	props := jsonschema.NewProperties()
	for f := range s.Persistent() {
		var prop *jsonschema.Schema
		switch f.Kind {
		case KindScalar:
			prop = ref.ReflectFromType(f.goType)
			prop.Version = ""
		case KindRef:
			prop = &jsonschema.Schema{Type: "string", Description: "ID of a " + f.Type}
		case KindCollection:
			prop = &jsonschema.Schema{
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				UniqueItems: f.Collection == CollectionSet,
				Description: "IDs of " + f.Elem,
			}
		}
		if f.Alias != "" && prop.Title == "" {
			prop.Title = f.Name
		}
		props.Set(f.StorageName(), prop)
	}
	return &jsonschema.Schema{
		Version:              jsonschema.Version,
		Title:                s.Name,
		Type:                 "object",
		Properties:           props,
		AdditionalProperties: jsonschema.FalseSchema,
	}, nil
}
