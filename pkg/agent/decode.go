package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDecode is wrapped by every field decoding failure.
var ErrDecode = errors.New("cannot decode field")

// DecodeCode returns the program text in field. Literal two-character "\n"
// sequences are expanded, since models sometimes escape newlines twice.
func DecodeCode(obj map[string]any, field string) (string, error) {
	v, ok := obj[field]
	if !ok {
		return "", &MissingFieldsError{Fields: []string{field}}
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w %q: got %T, want string", ErrDecode, field, v)
	}
	return strings.ReplaceAll(s, `\n`, "\n"), nil
}

// DecodeReview reads the correct flag and the corrections list. A missing or
// null flag is false and null corrections are an empty list.
func DecodeReview(obj map[string]any) (bool, []string, error) {
	correct := false
	switch v := obj["correct"].(type) {
	case nil:
	case bool:
		correct = v
	default:
		return false, nil, fmt.Errorf("%w %q: got %T, want boolean", ErrDecode, "correct", v)
	}

	corrections := []string{}
	switch v := obj["corrections"].(type) {
	case nil:
	case []any:
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return false, nil, fmt.Errorf("%w %q: element %d is %T, want string", ErrDecode, "corrections", i, item)
			}
			corrections = append(corrections, s)
		}
	default:
		return false, nil, fmt.Errorf("%w %q: got %T, want array or null", ErrDecode, "corrections", v)
	}
	return correct, corrections, nil
}
