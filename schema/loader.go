package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/servicekit/errors"
)

// metaSchema is the JSON Schema every service definition document must
// satisfy before it is decoded. Validation happens before registration so a
// malformed definition fails at startup, not at first use.
const metaSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "actions"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "return_type": {"type": "string"},
          "timeout_ms": {"type": "integer", "minimum": 0},
          "tags": {"type": "array", "items": {"type": "string"}},
          "params": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "type": {"type": "string", "minLength": 1},
                "required": {"type": "boolean"},
                "default": {}
              }
            }
          },
          "entity": {
            "type": "object",
            "properties": {
              "primary_key": {"type": "string"},
              "fields": {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["name", "type"],
                  "properties": {
                    "name": {"type": "string", "minLength": 1},
                    "type": {"type": "string", "minLength": 1},
                    "optional": {"type": "boolean"}
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

// definitionDocument is the on-disk shape of a service definition. Actions
// are a list, not a map, so parameter order survives decoding.
type definitionDocument struct {
	Name    string             `json:"name"`
	Version string             `json:"version"`
	Actions []actionDefinition `json:"actions"`
}

type actionDefinition struct {
	Name       string            `json:"name"`
	Params     []paramDefinition `json:"params,omitempty"`
	ReturnType string            `json:"return_type,omitempty"`
	Entity     *EntityDefinition `json:"entity,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	TimeoutMs  int64             `json:"timeout_ms,omitempty"`
}

type paramDefinition struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Required bool            `json:"required,omitempty"`
	Default  json.RawMessage `json:"default,omitempty"`
}

// ParseDefinition validates a JSON service definition against the embedded
// meta-schema and converts it to a ServiceSchema. It fails fast on malformed
// documents: missing action names, duplicate parameters, invalid JSON.
func ParseDefinition(data []byte) (*ServiceSchema, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(metaSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, errors.WrapInvalid(err, "schema", "ParseDefinition", "validate definition")
	}

	if !result.Valid() {
		msg := "definition validation failed:"
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf("\n  - %s: %s", desc.Field(), desc.Description())
		}
		return nil, errors.WrapInvalid(errors.ErrInvalidDefinition, "schema", "ParseDefinition", msg)
	}

	var doc definitionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "schema", "ParseDefinition", "decode definition")
	}

	svc := &ServiceSchema{
		Name:    doc.Name,
		Version: doc.Version,
		Actions: make(map[string]*ActionSchema, len(doc.Actions)),
	}

	for _, ad := range doc.Actions {
		if _, exists := svc.Actions[ad.Name]; exists {
			return nil, errors.WrapInvalid(errors.ErrInvalidDefinition, "schema", "ParseDefinition",
				fmt.Sprintf("service %q declares action %q twice", doc.Name, ad.Name))
		}

		action := &ActionSchema{
			Name:       ad.Name,
			ReturnType: ad.ReturnType,
			Entity:     ad.Entity,
			Tags:       ad.Tags,
			TimeoutMs:  ad.TimeoutMs,
			Params:     make([]ParamSchema, 0, len(ad.Params)),
		}

		for _, pd := range ad.Params {
			param := ParamSchema{
				Name:     pd.Name,
				Type:     pd.Type,
				Required: pd.Required,
			}
			if len(pd.Default) > 0 {
				var value any
				if err := json.Unmarshal(pd.Default, &value); err != nil {
					return nil, errors.WrapInvalid(err, "schema", "ParseDefinition",
						fmt.Sprintf("decode default for parameter %q", pd.Name))
				}
				param.Default = value
				param.HasDefault = true
			}
			action.Params = append(action.Params, param)
		}

		svc.Actions[ad.Name] = action
	}

	if err := svc.Validate(); err != nil {
		return nil, err
	}

	return svc, nil
}

// LoadDirectory parses every *.json definition in a directory and registers
// the resulting schemas, in file name order. The first malformed definition
// aborts the load.
func LoadDirectory(registry *Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "schema", "LoadDirectory", "read definitions directory")
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, name := range files {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "schema", "LoadDirectory", "read "+path)
		}

		svc, err := ParseDefinition(data)
		if err != nil {
			return errors.Wrap(err, "schema", "LoadDirectory", "parse "+path)
		}

		if err := registry.Register(svc); err != nil {
			return errors.Wrap(err, "schema", "LoadDirectory", "register "+path)
		}
	}

	return nil
}
