package tools

import "context"

// Spec describes a registered tool: a static name, a JSON-schema argument
// spec, and whether invoking it mutates state. Specs are what the reasoning
// adapter sees; handlers are never exposed to it.
type Spec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Mutating    bool                   `json:"-"`
}

// Tool is a data-only operation invocable by name and args. Tools must never
// call the reasoning adapter themselves.
type Tool interface {
	Spec() Spec
	Call(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// objectSchema builds the standard argument schema shape.
func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// numberArg tolerates both float64 (decoded JSON) and int (hand-built args).
func numberArg(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	if v, ok := numberArg(args, key); ok {
		return int(v)
	}
	return fallback
}
