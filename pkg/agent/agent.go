// Package agent implements the model-backed roles of the convergence loop on
// top of a single chat engine. A role is data: instructions plus the fields
// its response must carry.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/GaryBoone/ai-critics/pkg/chat"
)

// Schema lists the fields a role's response must contain.
type Schema struct {
	Fields []string
	// PayloadField is passed to the normalizer for shape recovery.
	PayloadField string
}

var (
	// CodeSchema is the response shape of roles that produce a program.
	CodeSchema = Schema{Fields: []string{"code"}, PayloadField: "code"}
	// ReviewSchema is the response shape of reviewers.
	ReviewSchema = Schema{Fields: []string{"correct", "corrections"}}
)

// Role describes one agent.
type Role struct {
	Name         string
	Instructions string
	Schema       Schema
	// Temperature and MaxTokens override the chat defaults when non-zero.
	Temperature float32
	MaxTokens   int
}

// Chatter is the call engine an Agent runs on. *chat.Client implements it.
type Chatter interface {
	Call(ctx context.Context, req chat.Request, progress chat.Progress) (map[string]any, error)
}

// Agent runs one role against a Chatter.
type Agent struct {
	role    Role
	chatter Chatter
	logger  *slog.Logger
}

// New creates an Agent. A nil logger uses slog.Default.
func New(role Role, chatter Chatter, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{role: role, chatter: chatter, logger: logger}
}

// Name returns the role name.
func (a *Agent) Name() string { return a.role.Name }

// Chat sends user text under the role's instructions and returns the
// response object after checking it carries every required field.
func (a *Agent) Chat(ctx context.Context, user string, progress chat.Progress) (map[string]any, error) {
	obj, err := a.chatter.Call(ctx, chat.Request{
		Name:         a.role.Name,
		System:       a.role.Instructions,
		User:         user,
		Temperature:  a.role.Temperature,
		MaxTokens:    a.role.MaxTokens,
		PayloadField: a.role.Schema.PayloadField,
	}, progress)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.role.Name, err)
	}

	extra, err := ValidateFields(obj, a.role.Schema.Fields)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.role.Name, err)
	}
	if len(extra) > 0 {
		a.logger.Warn("Extra keys in response", "agent", a.role.Name, "keys", extra)
	}
	return obj, nil
}

// MissingFieldsError is returned when a response lacks required fields.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("the returned JSON is missing fields [%s]", strings.Join(e.Fields, ", "))
}

// ValidateFields compares the object's keys with the required set. Missing
// keys are an error; keys beyond the required set are returned, sorted.
func ValidateFields(obj map[string]any, required []string) ([]string, error) {
	want := make(map[string]bool, len(required))
	for _, f := range required {
		want[f] = true
	}

	var missing []string
	for f := range want {
		if _, ok := obj[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingFieldsError{Fields: missing}
	}

	extra := []string{}
	for k := range obj {
		if !want[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra, nil
}
