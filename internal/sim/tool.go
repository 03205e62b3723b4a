package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/world"
)

// Effect performs a tool's work: its own world mutations and bus emissions.
// params is the validated parameter value produced by the tool's schema.
// A returned error becomes a success:false envelope.
type Effect func(ctx context.Context, w *world.World, agent entity.ID, params any, bus Emitter) (action.Result, error)

// Field describes one declared tool parameter.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Tool is an invocable action: {name, description, parameters, schema} plus
// the effect run once parameters validate.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  []Field `json:"parameters"`
	Effect      Effect  `json:"-"`

	decode func(json.RawMessage) (any, error)
}

// Validate decodes raw parameters against the tool schema. On mismatch it
// returns an *action.Rejected naming the failing field and rule.
func (t Tool) Validate(raw json.RawMessage) (any, error) {
	if t.decode == nil {
		return nil, nil
	}
	v, err := t.decode(raw)
	if err != nil {
		var rej *action.Rejected
		if errors.As(err, &rej) {
			rej.Tool = t.Name
			return nil, rej
		}
		return nil, &action.Rejected{Reason: action.ReasonInvalidParameters, Tool: t.Name, Detail: err.Error()}
	}
	return v, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewTool builds a Tool whose schema is the struct type P. Field names come
// from json tags, rules from validate tags, descriptions from desc tags.
func NewTool[P any](name, description string, effect func(ctx context.Context, w *world.World, agent entity.ID, p P, bus Emitter) (action.Result, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  fieldsOf(reflect.TypeFor[P]()),
		decode: func(raw json.RawMessage) (any, error) {
			return decodeParams[P](raw)
		},
		Effect: func(ctx context.Context, w *world.World, agent entity.ID, params any, bus Emitter) (action.Result, error) {
			p, ok := params.(P)
			if !ok {
				return action.Result{}, errors.New("parameters were not validated against the tool schema")
			}
			return effect(ctx, w, agent, p, bus)
		},
	}
}

func decodeParams[P any](raw json.RawMessage) (P, error) {
	var p P
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, decodeRejection(err)
	}
	if dec.More() {
		return p, &action.Rejected{Reason: action.ReasonInvalidParameters, Detail: "malformed JSON"}
	}
	if reflect.TypeFor[P]().Kind() != reflect.Struct {
		return p, nil
	}
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return p, &action.Rejected{
				Reason: action.ReasonInvalidParameters,
				Field:  fe.Field(),
				Detail: describeRule(fe),
			}
		}
		return p, &action.Rejected{Reason: action.ReasonInvalidParameters, Detail: err.Error()}
	}
	return p, nil
}

const unknownFieldPrefix = "json: unknown field "

func decodeRejection(err error) *action.Rejected {
	rej := &action.Rejected{Reason: action.ReasonInvalidParameters}
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		rej.Field = typeErr.Field
		rej.Detail = "must be " + jsonTypeName(typeErr.Type)
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		rej.Detail = "malformed JSON"
	case strings.HasPrefix(err.Error(), unknownFieldPrefix):
		// encoding/json has no typed error for unknown fields.
		rej.Field = strings.Trim(strings.TrimPrefix(err.Error(), unknownFieldPrefix), `"`)
		rej.Detail = "unknown field"
	default:
		rej.Detail = err.Error()
	}
	return rej
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	default:
		if fe.Param() != "" {
			return "failed " + fe.Tag() + "=" + fe.Param()
		}
		return "failed " + fe.Tag()
	}
}

func fieldsOf(t reflect.Type) []Field {
	if t.Kind() != reflect.Struct {
		return []Field{}
	}
	fields := make([]Field, 0, t.NumField())
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		f := Field{Name: name, Type: jsonTypeName(sf.Type), Description: sf.Tag.Get("desc")}
		for _, rule := range strings.Split(sf.Tag.Get("validate"), ",") {
			switch {
			case rule == "required":
				f.Required = true
			case strings.HasPrefix(rule, "oneof="):
				f.Enum = strings.Fields(strings.TrimPrefix(rule, "oneof="))
			}
		}
		fields = append(fields, f)
	}
	return fields
}

func jsonTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}
