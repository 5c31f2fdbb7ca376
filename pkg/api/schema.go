package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaCreateShipment = "create_shipment"
	schemaUpdateStatus   = "update_status"
	schemaHandlePayment  = "handle_payment"
	schemaRoute          = "route"
)

// schemas holds compiled request schemas by name.
type schemas map[string]*jsonschema.Schema

func compileSchemas() (schemas, error) {
	out := make(schemas)
	for _, name := range []string{schemaCreateShipment, schemaUpdateStatus, schemaHandlePayment, schemaRoute} {
		data, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://dchain.schemas.local/api/%s.schema.json", name)
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
		}
		out[name] = compiled
	}
	return out, nil
}

// validate checks raw JSON against the named schema.
func (s schemas) validate(name string, raw []byte) error {
	// jsonschema v5 expects the raw value decoded with UseNumber.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if t, _ := dec.Token(); t != nil {
		return fmt.Errorf("invalid JSON: %w", errors.New("invalid character after top-level value"))
	}
	if err := s[name].Validate(doc); err != nil {
		return err
	}
	return nil
}
