// Package schema validates request bodies against the JSON schemas embedded
// under schemas/.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema ids; each maps to schemas/<id>.json.
const (
	Workflow = "workflow"
	Profile  = "profile"
)

//go:embed schemas/*.json
var files embed.FS

var (
	loadOnce sync.Once
	loadErr  error
	compiled map[string]*jsonschema.Schema
)

// Invalid lists every leaf violation of one document.
type Invalid struct {
	Schema     string
	Violations []string
}

func (e *Invalid) Error() string {
	return "invalid " + e.Schema + ": " + strings.Join(e.Violations, "; ")
}

// Validate checks value against the embedded schema id. value may be a
// decoded document or raw JSON bytes.
func Validate(id string, value any) error {
	loadOnce.Do(load)
	if loadErr != nil {
		return loadErr
	}
	s, ok := compiled[id]
	if !ok {
		return fmt.Errorf("unknown schema %q", id)
	}
	doc, err := decode(value)
	if err != nil {
		return err
	}
	err = s.Validate(doc)
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return &Invalid{Schema: id, Violations: leaves(verr)}
	}
	return err
}

func load() {
	c := jsonschema.NewCompiler()
	entries, err := files.ReadDir("schemas")
	if err != nil {
		loadErr = err
		return
	}
	out := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		id := strings.TrimSuffix(e.Name(), ".json")
		data, err := files.ReadFile("schemas/" + e.Name())
		if err != nil {
			loadErr = fmt.Errorf("read schema %s: %w", id, err)
			return
		}
		url := "mem://nodeflow/" + e.Name()
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			loadErr = fmt.Errorf("add schema %s: %w", id, err)
			return
		}
		s, err := c.Compile(url)
		if err != nil {
			loadErr = fmt.Errorf("compile schema %s: %w", id, err)
			return
		}
		out[id] = s
	}
	compiled = out
}

func decode(value any) (any, error) {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return value, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return doc, nil
}

// leaves flattens the error tree into sorted "location: message" lines.
func leaves(verr *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	sort.Strings(out)
	return out
}
