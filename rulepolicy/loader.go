package rulepolicy

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseJSONDocument decodes a policy document from JSON.
func ParseJSONDocument(r io.Reader) (Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode policy document: %w", err)
	}
	return doc, nil
}

// LoadJSONDocument reads a JSON document from disk.
func LoadJSONDocument(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open policy document: %w", err)
	}
	defer f.Close()
	return ParseJSONDocument(f)
}

// ParseYAMLDocument decodes a policy document from YAML. Operators tend to
// hand-author resource and tag policies; YAML's comments and multi-line
// flow make that easier than the JSON form.
func ParseYAMLDocument(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode policy document: %w", err)
	}
	return doc, nil
}

// LoadYAMLDocument reads a YAML document from disk.
func LoadYAMLDocument(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open policy document: %w", err)
	}
	defer f.Close()
	return ParseYAMLDocument(f)
}
