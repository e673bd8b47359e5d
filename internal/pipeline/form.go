package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"voxform/internal/maui"
)

// FormDefinition is the static schema bundle submitted alongside every
// transcript. The schema, example data and choice set are opaque JSON; only
// the remote service interprets them.
type FormDefinition struct {
	Schema      json.RawMessage `json:"formSchema"`
	Name        string          `json:"formSchemaName"`
	ExampleData json.RawMessage `json:"formSchemaExampleData"`
	Choices     json.RawMessage `json:"formSchemaChoices"`
}

// DefaultFormDefinition is used when no schema file is configured.
func DefaultFormDefinition() *FormDefinition {
	return &FormDefinition{
		Schema:      json.RawMessage(`{}`),
		Name:        "default",
		ExampleData: json.RawMessage(`{}`),
		Choices:     json.RawMessage(`[]`),
	}
}

// LoadFormDefinition reads the schema bundle from a JSON file; an empty path
// yields the default definition.
func LoadFormDefinition(path string) (*FormDefinition, error) {
	if path == "" {
		return DefaultFormDefinition(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read form schema: %w", err)
	}
	var def FormDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse form schema: %w", err)
	}
	if def.Name == "" {
		def.Name = "default"
	}
	return &def, nil
}

// CompileRequest bundles the definition with a transcript.
func (f *FormDefinition) CompileRequest(transcript string) maui.CompileRequest {
	return maui.CompileRequest{
		FormSchema:            f.Schema,
		FormSchemaName:        f.Name,
		FormSchemaExampleData: f.ExampleData,
		FormSchemaChoices:     f.Choices,
		TranscribedAudio:      transcript,
	}
}
