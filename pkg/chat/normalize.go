package chat

import (
	"encoding/json"
	"fmt"
)

// Normalize parses a finished response and reconciles known shape quirks of
// the payload field. The rules are:
//
//   - a string payload is accepted as-is;
//   - an object payload with exactly one key is replaced by that key, since
//     the service sometimes returns the payload as both key and value;
//   - any other payload shape asks for a retry.
//
// An empty payloadField, or a response without it, returns the object
// unchanged and leaves field checks to the caller.
func Normalize(text, payloadField string) (Outcome, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return Outcome{}, &ParseError{Text: text, Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: top-level %s:\n%s", ErrUnexpectedStructure, kindOf(v), text)
	}
	if payloadField == "" {
		return done(obj), nil
	}
	payload, ok := obj[payloadField]
	if !ok {
		return done(obj), nil
	}

	switch p := payload.(type) {
	case string:
		return done(obj), nil
	case map[string]any:
		if len(p) == 1 {
			for k := range p {
				obj[payloadField] = k
			}
			return done(obj), nil
		}
	}
	return retry(CausePayloadShape, fmt.Errorf("field %q is %s", payloadField, kindOf(payload))), nil
}

func kindOf(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return fmt.Sprintf("object with %d keys", len(v))
	default:
		return fmt.Sprintf("%T", v)
	}
}
