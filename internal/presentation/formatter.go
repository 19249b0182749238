// Package presentation renders API data for the terminal: indented JSON for
// scripts and lipgloss-styled text for people.
package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"

	"github.com/zjrosen/repoloop/internal/pubsub"
	"github.com/zjrosen/repoloop/internal/session"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 100

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	width  int
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
		width:  DefaultWidth,
	}
}

// WithWidth sets the wrap width for text output.
func (f *Formatter) WithWidth(width int) *Formatter {
	if width > 20 {
		f.width = width
	}
	return f
}

// FormatJSON writes v as indented JSON.
func (f *Formatter) FormatJSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatSessions writes one line per session summary.
func (f *Formatter) FormatSessions(sessions []session.Summary) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(f.writer, mutedStyle.Render("No sessions yet."))
		return err
	}
	var b strings.Builder
	for _, s := range sessions {
		goal := ansi.Truncate(oneLine(s.Goal), max(f.width-70, 10), "…")
		fmt.Fprintf(&b, "%s  %s  %s  %s  %s\n",
			accentStyle.Render(s.ID.String()),
			statusStyle(string(s.Status)).Render(fmt.Sprintf("%-7s", s.Status)),
			mutedStyle.Render(s.StartTime.Local().Format("2006-01-02 15:04")),
			fmt.Sprintf("%s/%d", successStyle.Render(fmt.Sprint(s.Created)), s.Iterations),
			goal,
		)
	}
	_, err := io.WriteString(f.writer, b.String())
	return err
}

// FormatResults writes a session header followed by one line per record.
// When md is non-nil each created README is rendered below its record.
func (f *Formatter) FormatResults(s *session.Session, md *MarkdownRenderer) error {
	if s == nil {
		_, err := fmt.Fprintln(f.writer, mutedStyle.Render("No results yet."))
		return err
	}
	dto := FromSession(s)

	var b strings.Builder
	b.WriteString(titleStyle.Render("Session "+dto.SessionID) + "\n")
	b.WriteString(field("Status", statusStyle(dto.Status).Render(dto.Status)))
	b.WriteString(field("Goal", ansi.Truncate(oneLine(dto.Goal), f.width-12, "…")))
	if dto.Model != "" {
		b.WriteString(field("Model", dto.Model))
	}
	b.WriteString(field("Started", dto.StartTime.Local().Format(time.DateTime)))
	if dto.EndTime != nil {
		b.WriteString(field("Ended", dto.EndTime.Local().Format(time.DateTime)))
	}
	b.WriteString(field("Repos", fmt.Sprintf("%s created, %s errors, %d planned",
		successStyle.Render(fmt.Sprint(dto.Created)),
		errorStyle.Render(fmt.Sprint(dto.Errors)),
		dto.Iterations)))
	b.WriteString("\n")

	for i, repo := range dto.Repos {
		b.WriteString(f.repoLine(repo))
		if md == nil || repo.Status != string(session.RecordCreated) {
			continue
		}
		rendered, err := md.Render(s.Records[i].Content)
		if err != nil {
			return fmt.Errorf("render %s: %w", repo.Name, err)
		}
		b.WriteString(rendered + "\n")
	}

	_, err := io.WriteString(f.writer, b.String())
	return err
}

func (f *Formatter) repoLine(repo RepoDTO) string {
	marker := statusStyle(repo.Status).Render(statusMarker(repo.Status))
	name := ansi.Truncate(repo.Name, 40, "…")
	line := fmt.Sprintf("%s %3d  %-40s", marker, repo.Iteration, name)
	switch {
	case repo.URL != "":
		line += "  " + accentStyle.Render(repo.URL)
	case repo.Error != "":
		line += "  " + errorStyle.Render(ansi.Truncate(oneLine(repo.Error), max(f.width-50, 20), "…"))
	default:
		line += "  " + mutedStyle.Render(repo.Status)
	}
	if repo.Technique != "" {
		line += "\n" + mutedStyle.Render("       "+ansi.Truncate(oneLine(repo.Technique), f.width-7, "…"))
	}
	return line + "\n"
}

// FormatEvent renders one stream event as a line for `watch`. Unknown types
// fall back to their raw payload.
func (f *Formatter) FormatEvent(eventType string, payload json.RawMessage, at time.Time) error {
	_, err := io.WriteString(f.writer, f.RenderEvent(eventType, payload, at))
	return err
}

// RenderEvent returns the text FormatEvent writes.
func (f *Formatter) RenderEvent(eventType string, payload json.RawMessage, at time.Time) string {
	prefix := mutedStyle.Render(at.Local().Format("15:04:05")) + " "
	body := f.eventBody(eventType, payload)
	indent := strings.Repeat(" ", 9)
	return prefix + strings.ReplaceAll(body, "\n", "\n"+indent) + "\n"
}

func (f *Formatter) eventBody(eventType string, payload json.RawMessage) string {
	wrapAt := f.width - 9
	switch pubsub.EventType(eventType) {
	case session.EventStatusUpdate:
		var p struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(payload, &p)
		text := "status " + statusStyle(p.Status).Render(p.Status)
		if p.Reason != "" {
			text += mutedStyle.Render(" (" + p.Reason + ")")
		}
		return text
	case session.EventLog:
		var p session.MessagePayload
		_ = json.Unmarshal(payload, &p)
		return wordwrap.String(p.Message, wrapAt)
	case session.EventError:
		var p session.MessagePayload
		_ = json.Unmarshal(payload, &p)
		return errorStyle.Render(wordwrap.String("error: "+p.Message, wrapAt))
	case session.EventGenerationStart:
		var p session.GenerationStartPayload
		_ = json.Unmarshal(payload, &p)
		return titleStyle.Render(fmt.Sprintf("[%d/%d] generating %s", p.Iteration, p.Total, p.RepoName))
	case session.EventGenerationComplete:
		var p session.GenerationCompletePayload
		_ = json.Unmarshal(payload, &p)
		text := fmt.Sprintf("generated %d chars", p.ReadmeLength)
		if p.Technique != "" {
			text += ", technique: " + ansi.Truncate(oneLine(p.Technique), max(wrapAt-40, 10), "…")
		}
		return mutedStyle.Render(text)
	case session.EventRepoCreating:
		var p session.RepoCreatingPayload
		_ = json.Unmarshal(payload, &p)
		return mutedStyle.Render("creating " + p.RepoName + "…")
	case session.EventRepoCreated:
		var p session.RepoCreatedPayload
		_ = json.Unmarshal(payload, &p)
		return successStyle.Render("✓ "+p.RepoName) + " " + accentStyle.Render(p.RepoURL)
	case session.EventRepoError:
		var p session.RepoErrorPayload
		_ = json.Unmarshal(payload, &p)
		return errorStyle.Render(wordwrap.String("✗ "+p.RepoName+": "+p.Error, wrapAt))
	case session.EventSessionComplete:
		var p session.SessionCompletePayload
		_ = json.Unmarshal(payload, &p)
		return titleStyle.Render(fmt.Sprintf("session complete: %d created, %d errors", p.TotalCreated, p.TotalErrors))
	default:
		return mutedStyle.Render(eventType + " " + ansi.Truncate(string(payload), max(wrapAt-len(eventType)-1, 10), "…"))
	}
}

func field(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func statusMarker(status string) string {
	switch status {
	case string(session.RecordCreated):
		return "✓"
	case string(session.RecordError):
		return "✗"
	default:
		return "•"
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
