package filemanager

import (
	"encoding/json"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Codec converts between file bytes and values.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON encodes indented JSON and decodes JSON that may carry comments or
// trailing commas, since session files are sometimes edited by hand.
var JSON Codec = jsonCodec{}

// YAML encodes and decodes YAML documents.
var YAML Codec = yamlCodec{}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(jsonc.ToJSON(data), v)
}

type yamlCodec struct{}

func (yamlCodec) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (yamlCodec) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}
