package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/GaryBoone/ai-critics/pkg/chat"
	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// mockChatter returns Response (or Err) and records every request.
type mockChatter struct {
	Response map[string]any
	Err      error
	Requests []chat.Request
}

func (m *mockChatter) Call(ctx context.Context, req chat.Request, progress chat.Progress) (map[string]any, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	// Hand out a copy so callers cannot alter the fixture.
	out := make(map[string]any, len(m.Response))
	for k, v := range m.Response {
		out[k] = v
	}
	return out, nil
}

// =============================================================================
// FIELD VALIDATION
// =============================================================================

func TestValidateFields(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		extra, err := ValidateFields(map[string]any{"a": 1, "b": 2}, []string{"a", "b"})
		require.NoError(t, err)
		assert.Empty(t, extra)
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := ValidateFields(map[string]any{"a": 1}, []string{"a", "b"})
		var mf *MissingFieldsError
		require.ErrorAs(t, err, &mf)
		assert.Equal(t, []string{"b"}, mf.Fields)
		assert.Contains(t, err.Error(), "b")
	})

	t.Run("extra field reported", func(t *testing.T) {
		extra, err := ValidateFields(map[string]any{"a": 1, "c": 3}, []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, extra)
	})

	t.Run("missing takes precedence over extra", func(t *testing.T) {
		_, err := ValidateFields(map[string]any{"z": 1}, []string{"b", "a"})
		var mf *MissingFieldsError
		require.ErrorAs(t, err, &mf)
		assert.Equal(t, []string{"a", "b"}, mf.Fields)
	})
}

// =============================================================================
// DECODING
// =============================================================================

func TestDecodeCode(t *testing.T) {
	got, err := DecodeCode(map[string]any{"code": `fn main() {}\n#[test]\nfn t() {}`}, "code")
	require.NoError(t, err)
	assert.Equal(t, "fn main() {}\n#[test]\nfn t() {}", got)

	_, err = DecodeCode(map[string]any{"code": 3.0}, "code")
	assert.True(t, errors.Is(err, ErrDecode))

	_, err = DecodeCode(map[string]any{}, "code")
	var mf *MissingFieldsError
	assert.ErrorAs(t, err, &mf)
}

func TestDecodeReview(t *testing.T) {
	tests := []struct {
		name        string
		obj         map[string]any
		wantCorrect bool
		wantIssues  []string
		wantErr     bool
	}{
		{"pass with null corrections", map[string]any{"correct": true, "corrections": nil}, true, []string{}, false},
		{"fail with issues", map[string]any{"correct": false, "corrections": []any{"x", "y"}}, false, []string{"x", "y"}, false},
		{"null correct is false", map[string]any{"correct": nil, "corrections": []any{"x"}}, false, []string{"x"}, false},
		{"missing correct is false", map[string]any{"corrections": []any{}}, false, []string{}, false},
		{"string correct", map[string]any{"correct": "yes", "corrections": nil}, false, nil, true},
		{"non-string correction", map[string]any{"correct": false, "corrections": []any{"x", 2.0}}, false, nil, true},
		{"object corrections", map[string]any{"correct": false, "corrections": map[string]any{"a": "b"}}, false, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			correct, issues, err := DecodeReview(tt.obj)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrDecode), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCorrect, correct)
			assert.Equal(t, tt.wantIssues, issues)
		})
	}
}

// =============================================================================
// ROLES
// =============================================================================

func TestGenerator(t *testing.T) {
	m := &mockChatter{Response: map[string]any{"code": "fn main() {}", "explanation": "none"}}
	g := NewGenerator(m, nil)

	cand, err := g.Generate(context.Background(), "write main", nil)
	require.NoError(t, err)
	assert.Equal(t, "fn main() {}", cand.Source)

	require.Len(t, m.Requests, 1)
	req := m.Requests[0]
	assert.Equal(t, "Coder", req.Name)
	assert.Equal(t, "write main", req.User)
	assert.Equal(t, "code", req.PayloadField)
	assert.Contains(t, req.System, `"code"`)
}

func TestGenerator_MissingField(t *testing.T) {
	m := &mockChatter{Response: map[string]any{"program": "fn main() {}"}}
	_, err := NewGenerator(m, nil).Generate(context.Background(), "p", nil)
	var mf *MissingFieldsError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, []string{"code"}, mf.Fields)
	assert.True(t, strings.HasPrefix(err.Error(), "Coder: "))
}

func TestGenerator_ChatErrorPropagates(t *testing.T) {
	m := &mockChatter{Err: chat.ErrMaxRetriesExceeded}
	_, err := NewGenerator(m, nil).Generate(context.Background(), "p", nil)
	assert.True(t, errors.Is(err, chat.ErrMaxRetriesExceeded))
}

func TestReviewer(t *testing.T) {
	m := &mockChatter{Response: map[string]any{"correct": false, "corrections": []any{"off by one"}}}
	r, err := NewReviewer(domain.ReviewerCorrectness, 2, m, nil)
	require.NoError(t, err)
	assert.Equal(t, "Correctness Critic 2", r.Name())
	assert.Equal(t, domain.ReviewerCorrectness, r.Kind())

	v, err := r.Review(context.Background(), "problem", domain.Candidate{Source: "code"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Verdict{Reviewer: "Correctness Critic 2", Passed: false, Issues: []string{"off by one"}}, v)

	req := m.Requests[0]
	assert.Equal(t, "problem"+Separator+"code", req.User)
	assert.Empty(t, req.PayloadField)
	assert.Contains(t, req.System, "correctness")
}

func TestReviewer_Kinds(t *testing.T) {
	for _, kind := range append(domain.SpecializedKinds, domain.ReviewerGeneral) {
		r, err := NewReviewer(kind, 1, &mockChatter{}, nil)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(r.Name(), " Critic 1"))
	}
	_, err := NewReviewer("style", 1, &mockChatter{}, nil)
	assert.Error(t, err)
}

func TestReviewer_MissingCorrections(t *testing.T) {
	m := &mockChatter{Response: map[string]any{"correct": true}}
	r, err := NewReviewer(domain.ReviewerSyntax, 1, m, nil)
	require.NoError(t, err)
	_, err = r.Review(context.Background(), "p", domain.Candidate{}, nil)
	var mf *MissingFieldsError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, []string{"corrections"}, mf.Fields)
}

func TestRepairMessage(t *testing.T) {
	cand := domain.Candidate{Source: "fn main() {}"}

	msg := RepairMessage("goal", cand, domain.ReviewRequest{Kind: domain.RequestCodeReview, Comments: []string{"a", "b"}})
	assert.Equal(t, "goal"+Separator+"fn main() {}"+Separator+"a"+Separator+"b", msg)

	msg = RepairMessage("goal", cand, domain.ReviewRequest{Kind: domain.RequestCompilerFix, Comments: []string{"E0425"}})
	assert.True(t, strings.HasSuffix(msg, Separator+"Fix the following compilation error: E0425"))

	msg = RepairMessage("goal", cand, domain.ReviewRequest{Kind: domain.RequestTestFix, Comments: []string{"panicked"}})
	assert.True(t, strings.HasSuffix(msg, Separator+"Fix the following test error: panicked"))
}

func TestRepairer(t *testing.T) {
	m := &mockChatter{Response: map[string]any{"code": "fixed"}}
	r := NewRepairer(m, nil)

	for _, kind := range []domain.RequestKind{domain.RequestCodeReview, domain.RequestCompilerFix, domain.RequestTestFix} {
		cand, err := r.Repair(context.Background(), "goal", domain.Candidate{Source: "broken"}, domain.ReviewRequest{Kind: kind, Comments: []string{"c"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, "fixed", cand.Source)
	}
	require.Len(t, m.Requests, 3)
	assert.NotEqual(t, m.Requests[0].System, m.Requests[1].System)
	assert.NotEqual(t, m.Requests[1].System, m.Requests[2].System)

	_, err := r.Repair(context.Background(), "goal", domain.Candidate{}, domain.ReviewRequest{Kind: "rewrite"}, nil)
	assert.Error(t, err)
}
