package dto

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://jobby.local/schemas/"

var (
	schemaOnce  sync.Once
	schemaErr   error
	schemaIndex map[string]*jsonschema.Schema
)

// SchemaNames lists the embedded payload schemas.
var SchemaNames = []string{EventNewMessage, EventUserTyping, EventUserOnline, "conversation"}

func loadSchemas() {
	compiler := jsonschema.NewCompiler()
	schemaIndex = make(map[string]*jsonschema.Schema, len(SchemaNames))

	for _, name := range SchemaNames {
		raw, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
		if err != nil {
			schemaErr = fmt.Errorf("read schema %s: %w", name, err)
			return
		}
		if err := compiler.AddResource(schemaBaseURL+name, bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("add schema %s: %w", name, err)
			return
		}
	}

	for _, name := range SchemaNames {
		schema, err := compiler.Compile(schemaBaseURL + name)
		if err != nil {
			schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		schemaIndex[name] = schema
	}
}

// Schema returns the compiled schema for an event or resource name.
func Schema(name string) (*jsonschema.Schema, error) {
	schemaOnce.Do(loadSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}

	schema, ok := schemaIndex[name]
	if !ok {
		return nil, fmt.Errorf("no schema registered for %q", name)
	}
	return schema, nil
}

// ValidatePayload checks a raw JSON payload against the schema registered under name.
func ValidatePayload(name string, raw []byte) error {
	schema, err := Schema(name)
	if err != nil {
		return err
	}

	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return fmt.Errorf("decode %s payload: %w", name, err)
	}

	return schema.Validate(document)
}
