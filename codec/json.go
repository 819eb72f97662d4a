package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec. The most portable option; use it
// when zero extra dependencies matter more than throughput.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used for newly written manifests and API responses.
// Existing manifests record their codec name and are decoded with it.
var Default Codec = GoJSON{}
