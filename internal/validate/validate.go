// Package validate decides whether a profile's content is a usable
// sing-box configuration. Validation never fails with an error: every
// problem becomes Result.Valid == false with a reason.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// Stage identifies where validation stopped.
type Stage string

const (
	StageOK     Stage = ""
	StageParse  Stage = "parse"
	StageSchema Stage = "schema"
)

// Result is the outcome of validating one document.
type Result struct {
	Valid  bool
	Stage  Stage
	Reason string
}

// profileSchema is the structural subset of the sing-box configuration
// that the daemon depends on when rewriting and launching a profile.
const profileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["outbounds"],
  "properties": {
    "log": {"type": "object"},
    "dns": {"type": "object"},
    "ntp": {"type": "object"},
    "route": {"type": "object"},
    "experimental": {"type": "object"},
    "endpoints": {"type": "array", "items": {"$ref": "#/definitions/typed"}},
    "inbounds": {"type": "array", "items": {"$ref": "#/definitions/typed"}},
    "outbounds": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/typed"}}
  },
  "definitions": {
    "typed": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string", "minLength": 1},
        "tag": {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("sing-box-profile.schema.json", profileSchema)
	})
	return schema, schemaErr
}

// Parse decodes content as a JSON object. Comments, trailing commas and
// the rest of JSON5 are accepted since sing-box itself tolerates them.
func Parse(content []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, errors.New("empty document")
	}
	var doc any
	if err := json5.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %s, want object", kindOf(doc))
	}
	return obj, nil
}

// Validate parses content and checks it against the profile schema.
func Validate(content []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Stage: StageParse, Reason: fmt.Sprintf("validator panic: %v", r)}
		}
	}()

	doc, err := Parse(content)
	if err != nil {
		return Result{Stage: StageParse, Reason: err.Error()}
	}

	s, err := compiled()
	if err != nil {
		return Result{Stage: StageSchema, Reason: fmt.Sprintf("compiling schema: %v", err)}
	}
	if err := s.Validate(doc); err != nil {
		return Result{Stage: StageSchema, Reason: schemaReason(err)}
	}
	return Result{Valid: true}
}

// Valid is Validate reduced to its boolean outcome.
func Valid(content []byte) bool {
	return Validate(content).Valid
}

// schemaReason flattens a jsonschema error tree into one line per leaf.
func schemaReason(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(leaves, "; ")
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
