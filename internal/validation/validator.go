package validation

import "github.com/GGPrompts/flowcanvas/pkg/schema"

// Validator checks graph bundles and fragments for correctness before they
// are opened, saved, or merged. Uses JSON Schema Draft 2020-12 for the wire
// shape plus structural checks the schema cannot express.
type Validator interface {
	ValidateBundle(bundle *schema.GraphBundle) error
	ValidateFragment(frag *schema.Fragment) error
}
