package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/factlore/wikipedia-mcp/internal/logctx"
	"github.com/factlore/wikipedia-mcp/mcp"
)

// ParamType is the semantic type of a declared tool parameter.
type ParamType string

const (
	ParamTypeString      ParamType = "string"
	ParamTypeInteger     ParamType = "integer"
	ParamTypeBoolean     ParamType = "boolean"
	ParamTypeStringArray ParamType = "stringArray"
)

// jsonSchemaType maps a ParamType to its JSON schema type keyword.
func (t ParamType) jsonSchemaType() string {
	if t == ParamTypeStringArray {
		return "array"
	}
	return string(t)
}

// Param declares a single tool parameter. The canonical name is snake_case;
// binding also accepts the camelCase spelling of the same name so clients
// that re-case argument keys still bind.
type Param struct {
	Name        string
	Description string
	Type        ParamType
	Required    bool
	// Default is used when an optional parameter is absent. Must already be
	// the bound Go type for the declared ParamType.
	Default any
}

// Handler performs the tool's work with bound arguments and returns the
// text to surface to the client.
type Handler func(ctx context.Context, args Args) (string, error)

// Tool pairs a declarative descriptor with its handler.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Descriptor builds the wire-visible tool descriptor from the declared
// parameter list.
func (t *Tool) Descriptor() mcp.Tool {
	props := make(map[string]mcp.SchemaProperty, len(t.Params))
	var required []string
	for _, p := range t.Params {
		prop := mcp.SchemaProperty{
			Type:        p.Type.jsonSchemaType(),
			Description: p.Description,
		}
		if p.Type == ParamTypeStringArray {
			prop.Items = &mcp.SchemaProperty{Type: "string"}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// Args holds bound argument values keyed by canonical parameter name.
type Args map[string]any

// String returns the bound string value for name, or "".
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Int returns the bound integer value for name, or 0.
func (a Args) Int(name string) int64 {
	v, _ := a[name].(int64)
	return v
}

// Bool returns the bound boolean value for name, or false.
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// StringSlice returns the bound string-array value for name, or nil.
func (a Args) StringSlice(name string) []string {
	v, _ := a[name].([]string)
	return v
}

// ErrToolNotFound is returned by Call when no registered tool matches the
// requested name.
var ErrToolNotFound = errors.New("tool not found")

// BindingError reports a tool argument that failed to bind: missing while
// required, or of the wrong type. It maps to an invalid-params error at the
// protocol layer.
type BindingError struct {
	Tool  string
	Param string
	Cause string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("tool %q: parameter %q: %s", e.Tool, e.Param, e.Cause)
}

const defaultCallTimeout = 30 * time.Second

// Registry is the static tool table. It is built once at startup and safe
// for concurrent use afterwards.
type Registry struct {
	tools       []*Tool
	byName      map[string]*Tool
	callTimeout time.Duration
	log         *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCallTimeout bounds each tool invocation. Default is 30s.
func WithCallTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithLogger sets the logger used for invocation events.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry builds a registry from the given tools, preserving
// declaration order for listings.
func NewRegistry(tools []Tool, opts ...RegistryOption) *Registry {
	r := &Registry{
		byName:      make(map[string]*Tool, len(tools)),
		callTimeout: defaultCallTimeout,
		log:         slog.Default(),
	}
	for i := range tools {
		t := &tools[i]
		r.tools = append(r.tools, t)
		r.byName[t.Name] = t
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns the tool descriptors in declaration order. The result is
// rebuilt per call so callers cannot mutate registry state.
func (r *Registry) List() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor())
	}
	return out
}

// Call looks up and invokes a tool. Binding failures return a
// *BindingError or ErrToolNotFound; handler failures (including timeouts
// and panics) are translated into plain errors carrying the original
// message. No failure mode escapes as a panic.
func (r *Registry) Call(ctx context.Context, name string, rawArgs json.RawMessage) (res *mcp.CallToolResult, err error) {
	tool, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})

	args, err := bindArguments(tool, rawArgs)
	if err != nil {
		r.log.WarnContext(ctx, "tool.call.bind.fail", slog.String("err", err.Error()))
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.ErrorContext(ctx, "tool.call.panic", slog.Any("panic", rec))
			res = nil
			err = fmt.Errorf("tool %q panicked: %v", name, rec)
		}
	}()

	start := time.Now()
	text, err := tool.Handler(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("tool %q timed out: %w", name, err)
		}
		r.log.WarnContext(ctx, "tool.call.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		return nil, err
	}

	r.log.InfoContext(ctx, "tool.call.ok", slog.Duration("dur", time.Since(start)))
	return &mcp.CallToolResult{Content: mcp.NewTextContent(text)}, nil
}

// bindArguments resolves each declared parameter from the raw arguments
// object and converts it to its declared type.
func bindArguments(tool *Tool, rawArgs json.RawMessage) (Args, error) {
	supplied := map[string]json.RawMessage{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &supplied); err != nil {
			return nil, &BindingError{Tool: tool.Name, Param: "", Cause: "arguments must be a JSON object"}
		}
	}

	args := make(Args, len(tool.Params))
	for _, p := range tool.Params {
		raw, found := resolveArgument(supplied, p.Name)
		if !found {
			if p.Required {
				return nil, &BindingError{Tool: tool.Name, Param: p.Name, Cause: "missing required parameter"}
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}
		v, err := convertArgument(p.Type, raw)
		if err != nil {
			return nil, &BindingError{Tool: tool.Name, Param: p.Name, Cause: err.Error()}
		}
		args[p.Name] = v
	}
	return args, nil
}

// resolveArgument tries the canonical key first, then its case-convention
// variants. JSON null counts as absent.
func resolveArgument(supplied map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	for _, key := range keyVariants(name) {
		if raw, ok := supplied[key]; ok && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

// keyVariants returns the lookup order for a canonical parameter name:
// exact, snake_case, camelCase.
func keyVariants(name string) []string {
	variants := []string{name}
	for _, v := range []string{toSnakeCase(name), toCamelCase(name)} {
		if v != name {
			variants = append(variants, v)
		}
	}
	return variants
}

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toCamelCase(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) == 1 {
		return name
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// convertArgument converts a raw JSON value to the declared parameter
// type. Mismatches are errors, not coercions.
func convertArgument(t ParamType, raw json.RawMessage) (any, error) {
	switch t {
	case ParamTypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected a string, got %s", truncateJSON(raw))
		}
		return s, nil
	case ParamTypeInteger:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("expected an integer, got %s", truncateJSON(raw))
		}
		if f != float64(int64(f)) {
			return nil, fmt.Errorf("expected an integer, got non-integral number %v", f)
		}
		return int64(f), nil
	case ParamTypeBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("expected a boolean, got %s", truncateJSON(raw))
		}
		return b, nil
	case ParamTypeStringArray:
		var ss []string
		if err := json.Unmarshal(raw, &ss); err != nil {
			return nil, fmt.Errorf("expected an array of strings, got %s", truncateJSON(raw))
		}
		return ss, nil
	default:
		return nil, fmt.Errorf("unknown parameter type %q", t)
	}
}

func truncateJSON(raw json.RawMessage) string {
	const max = 64
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
