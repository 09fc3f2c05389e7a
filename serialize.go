package eventstore

import (
	"encoding/json"
	"fmt"
)

// Serializer converts event batches, headers and snapshot payloads to and
// from bytes for adapters that persist opaque blobs.
//
// Round-trip fidelity is part of the contract: Deserialize(Serialize(x))
// must reproduce x for every value an application stores. The default
// JSONSerializer satisfies this for JSON-representable values (maps,
// slices, strings, numbers, booleans).
type Serializer interface {
	// Serialize encodes v.
	Serialize(v any) ([]byte, error)

	// Deserialize decodes data into the value pointed to by out.
	Deserialize(data []byte, out any) error
}

// JSONSerializer is the default Serializer, backed by encoding/json.
type JSONSerializer struct{}

// NewJSONSerializer returns the default serializer.
func NewJSONSerializer() JSONSerializer { return JSONSerializer{} }

// Serialize encodes v as compact JSON.
func (JSONSerializer) Serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return data, nil
}

// Deserialize decodes JSON into out.
func (JSONSerializer) Deserialize(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("deserialize: %w", err)
	}
	return nil
}
