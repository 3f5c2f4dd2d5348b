package chat

import (
	"strings"
	"testing"

	"github.com/GaryBoone/ai-critics/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestBlankGuard_StreakCounting(t *testing.T) {
	g := blankGuard{threshold: 300}
	inputs := []string{"", " ", "\n\t", "x", "  ", "", "{", " "}
	want := []int{1, 2, 3, 0, 1, 2, 0, 1}
	for i, in := range inputs {
		assert.False(t, g.observe(in), "input %d", i)
		assert.Equal(t, want[i], g.streak, "streak after input %d (%q)", i, in)
	}
}

func TestBlankGuard_Threshold(t *testing.T) {
	t.Run("blank at threshold trips", func(t *testing.T) {
		g := blankGuard{threshold: 100, streak: 100}
		assert.True(t, g.observe("   "))
	})
	t.Run("text at threshold resets", func(t *testing.T) {
		g := blankGuard{threshold: 100, streak: 100}
		assert.False(t, g.observe(`"a"`))
		assert.Equal(t, 0, g.streak)
	})
	t.Run("reaching threshold does not trip", func(t *testing.T) {
		g := blankGuard{threshold: 3}
		for i := 0; i < 3; i++ {
			assert.False(t, g.observe(""))
		}
		assert.True(t, g.observe(""))
	})
}

func TestCollector(t *testing.T) {
	t.Run("stop reason yields api success", func(t *testing.T) {
		c := newCollector(300)
		for _, ch := range text(`{"co`, ``, `de":"x"}`) {
			_, abandon := c.observe(ch)
			assert.False(t, abandon)
		}
		out := c.finish()
		assert.Equal(t, OutcomeAPISuccess, out.Kind)
		assert.Equal(t, `{"code":"x"}`, out.Text)
		assert.Equal(t, model.ReasonStop, out.Reason)
	})

	t.Run("missing reason retries", func(t *testing.T) {
		c := newCollector(300)
		c.observe(model.Chunk{Text: "{}"})
		out := c.finish()
		assert.Equal(t, OutcomeRetry, out.Kind)
		assert.Equal(t, CauseFinishReason, out.Cause)
	})

	t.Run("last reason wins", func(t *testing.T) {
		c := newCollector(300)
		c.observe(model.Chunk{Text: "{}", Reason: model.ReasonStop})
		c.observe(model.Chunk{Reason: model.ReasonLengthExceeded})
		assert.Equal(t, OutcomeRetry, c.finish().Kind)
	})

	t.Run("blank flood abandons", func(t *testing.T) {
		c := newCollector(2)
		c.observe(model.Chunk{Text: strings.Repeat(" ", 4)})
		c.observe(model.Chunk{Text: "\n"})
		out, abandon := c.observe(model.Chunk{Text: " "})
		assert.True(t, abandon)
		assert.Equal(t, CauseBlankStream, out.Cause)
	})
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "retry", OutcomeRetry.String())
	assert.Equal(t, "api_success", OutcomeAPISuccess.String())
	assert.Equal(t, "done", OutcomeDone.String())
}
