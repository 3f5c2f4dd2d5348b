package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/GaryBoone/ai-critics/pkg/controller"
	"github.com/GaryBoone/ai-critics/pkg/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	codeStyle    = lipgloss.NewStyle().PaddingLeft(2)
)

func statusStyle(s domain.RunStatus) lipgloss.Style {
	switch s {
	case domain.RunConverged:
		return successStyle
	case domain.RunExhausted:
		return warnStyle
	case domain.RunFailed:
		return errorStyle
	default:
		return labelStyle
	}
}

func field(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}

// formatSummary renders the outcome of a run for the terminal.
func formatSummary(res *controller.Result, err error) string {
	lines := []string{titleStyle.Render("critics")}
	if res == nil {
		lines = append(lines, errorStyle.Render("Run failed: ")+err.Error())
		return strings.Join(lines, "\n")
	}

	lines = append(lines,
		field("Run", res.RunID),
		field("Status", statusStyle(res.Status).Render(string(res.Status))),
		field("Proposals", fmt.Sprint(res.Proposals)),
	)
	switch {
	case err == nil:
		lines = append(lines, successStyle.Render(fmt.Sprintf("Success after %d proposals.", res.Proposals)))
	case errors.Is(err, controller.ErrMaxProposalsExceeded):
		lines = append(lines, warnStyle.Render("No consensus within the proposal budget."))
	default:
		lines = append(lines, field("Error", errorStyle.Render(err.Error())))
	}
	return strings.Join(lines, "\n")
}

// formatCode returns source as a plain indented block, or through glamour
// as highlighted markdown when render is set.
func formatCode(source string, render bool) (string, error) {
	if !render {
		return codeStyle.Render(source), nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", fmt.Errorf("creating renderer: %w", err)
	}
	return r.Render("```rust\n" + strings.TrimRight(source, "\n") + "\n```\n")
}

// formatRuns renders journal runs as an aligned table, newest first.
func formatRuns(runs []domain.Run) string {
	if len(runs) == 0 {
		return labelStyle.Render("No runs recorded.")
	}
	header := fmt.Sprintf("%-36s  %-9s  %9s  %s", "ID", "STATUS", "PROPOSALS", "CREATED")
	lines := []string{labelStyle.Render(header)}
	for _, r := range runs {
		status := statusStyle(r.Status).Render(fmt.Sprintf("%-9s", r.Status))
		lines = append(lines, fmt.Sprintf("%-36s  %s  %9d  %s", r.ID, status, r.Proposals, r.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return strings.Join(lines, "\n")
}

// formatEvent renders one journal event as a labelled block.
func formatEvent(ev domain.Event) string {
	head := fmt.Sprintf("#%d %s (proposal %d)", ev.Seq, ev.Type, ev.Proposal)
	if ev.Actor != "" {
		head += " by " + ev.Actor
	}
	return titleStyle.Render(head) + "\n" + codeStyle.Render(ev.Content)
}
