package shorthand

import (
	"encoding/json"

	"github.com/gofhir/shorthand/assign"
	"github.com/gofhir/shorthand/fsh"
)

// Document is one finished exported instance: a fully populated,
// schema-ordered tree plus the identity it exports under. Finished
// documents are immutable; embedding one into another always deep-copies
// the tree.
type Document struct {
	// Name is the instance name the document was exported from.
	Name string

	// ResourceType is the document's resource type, empty for documents
	// whose declared type is a data type.
	ResourceType string

	// ID is the document id after sanitizing, empty when the type carries
	// no id element.
	ID string

	// Usage the instance was declared with.
	Usage fsh.Usage

	// Tree is the materialized content.
	Tree *assign.Node
}

// MarshalJSON renders the document body with keys in schema element order.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Tree)
}

// Filename returns the conventional output file name: Type-id.json when
// both parts exist, otherwise the instance name.
func (d *Document) Filename() string {
	if d.ResourceType != "" && d.ID != "" {
		return d.ResourceType + "-" + d.ID + ".json"
	}
	return d.Name + ".json"
}
