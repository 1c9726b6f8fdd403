// ABOUTME: Unit parameter values and their declarative schemas.
// ABOUTME: Schemas travel as data to the catalog endpoint and drive central validation.
package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Param value types a schema can declare.
const (
	ParamInt    = "int"
	ParamFloat  = "float"
	ParamText   = "text"
	ParamSelect = "select"
)

// ParamSpec describes one parameter of a unit: its type, default, and the
// constraints the executor enforces before the unit runs.
type ParamSpec struct {
	Type     string   `json:"type"`
	Default  any      `json:"default,omitempty"`
	Options  []string `json:"options,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Required bool     `json:"required,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// f64 builds a *float64 for ParamSpec bounds.
func f64(v float64) *float64 {
	return &v
}

// Params holds the raw values supplied for one unit invocation, as decoded
// from the request body. Accessors coerce JSON's loose typing (numbers
// arrive as float64, form values as strings).
type Params map[string]any

// Has reports whether a non-empty value was supplied for key.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the value for key as a string, or def when absent.
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return def
		}
		return t
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Int returns the value for key as an int, or def when absent. Non-numeric
// and non-integral values are errors.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(t), nil
	case int:
		return t, nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(n), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}

// Float returns the value for key as a float64, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s must be a number", key)
		}
		return f, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return def, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number", key)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

// Bool returns the value for key as a bool, or def when absent. Select
// params modeled as {false,true} arrive as strings.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true") || t == "1"
	case float64:
		return t != 0
	default:
		return def
	}
}

// ValidateParams checks supplied values against a unit's schema: required
// params present, numeric values parseable and within bounds, select values
// among the declared options. Unknown keys are tolerated. Violations come
// back as BadParamsError.
func ValidateParams(schema map[string]ParamSpec, p Params) error {
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		spec := schema[key]
		if spec.Required && !p.Has(key) {
			return badParams("missing required parameter %q", key)
		}
		if !p.Has(key) {
			continue
		}
		switch spec.Type {
		case ParamInt:
			n, err := p.Int(key, 0)
			if err != nil {
				return badParams("%s", err)
			}
			if err := checkBounds(key, float64(n), spec); err != nil {
				return err
			}
		case ParamFloat:
			f, err := p.Float(key, 0)
			if err != nil {
				return badParams("%s", err)
			}
			if err := checkBounds(key, f, spec); err != nil {
				return err
			}
		case ParamSelect:
			v := p.String(key, "")
			found := false
			for _, opt := range spec.Options {
				if v == opt {
					found = true
					break
				}
			}
			if !found {
				return badParams("invalid value %q for %s (options: %s)", v, key, strings.Join(spec.Options, ", "))
			}
		}
	}
	return nil
}

func checkBounds(key string, v float64, spec ParamSpec) error {
	if spec.Min != nil && v < *spec.Min {
		return badParams("%s must be >= %g", key, *spec.Min)
	}
	if spec.Max != nil && v > *spec.Max {
		return badParams("%s must be <= %g", key, *spec.Max)
	}
	return nil
}
