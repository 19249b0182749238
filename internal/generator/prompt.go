package generator

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/zjrosen/repoloop/internal/log"
	"github.com/zjrosen/repoloop/internal/watcher"
)

// GoalPlaceholder is replaced with the session goal in the system prompt.
const GoalPlaceholder = "{{GOAL}}"

// DefaultPrompt is the built-in system prompt template.
const DefaultPrompt = `You write README.md files for small open-source project ideas.

## Goal
{{GOAL}}

## Requirements
- Invent a plausible, self-contained project that fits the goal
- The README must describe the project honestly: what it does, how to install it, how to use it
- Include a short feature list, a usage example and a license section
- Each generation should use a DIFFERENT writing approach and project theme
- Plain, readable Markdown only

## Output Format
Respond with JSON only:
{
  "readmeContent": "The full README.md content",
  "technique": "Short name of the writing approach used",
  "reasoning": "Why this approach suits the project",
  "projectTheme": "One-line description of the project"
}`

// PromptSource supplies the current default prompt template.
type PromptSource interface {
	Prompt() string
}

// StaticPrompt is a fixed template.
type StaticPrompt string

func (p StaticPrompt) Prompt() string { return string(p) }

// FilePrompt serves a template loaded from disk and reloads it whenever the
// file changes. The built-in template is used while the file is unreadable.
type FilePrompt struct {
	path string

	mu      sync.RWMutex
	current string

	watcher *watcher.Watcher
}

// LoadFilePrompt reads path once. Call Watch to enable hot reload.
func LoadFilePrompt(path string) (*FilePrompt, error) {
	p := &FilePrompt{path: path, current: DefaultPrompt}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Prompt returns the most recently loaded template.
func (p *FilePrompt) Prompt() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Path returns the watched file.
func (p *FilePrompt) Path() string {
	return p.path
}

func (p *FilePrompt) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("reading prompt file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("prompt file %s is empty", p.path)
	}

	p.mu.Lock()
	p.current = text
	p.mu.Unlock()
	return nil
}

// Watch reloads the template on every change until Close. reloaded, if
// non-nil, receives the result of each reload attempt.
func (p *FilePrompt) Watch(reloaded func(error)) error {
	w, err := watcher.New(watcher.DefaultConfig(p.path))
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return err
	}
	p.watcher = w

	log.SafeGo("prompt.reload", func() {
		for range changes {
			err := p.reload()
			if err != nil {
				log.ErrorErr(log.CatWatcher, "prompt reload failed", err, "path", p.path)
			} else {
				log.Info(log.CatWatcher, "prompt reloaded", "path", p.path)
			}
			if reloaded != nil {
				reloaded(err)
			}
		}
	})
	return nil
}

// Close stops watching.
func (p *FilePrompt) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Stop()
}

// PromptBuilder renders the system and user prompts for one session.
type PromptBuilder struct {
	prompts   PromptSource
	override  string
	goal      string
	reference string
}

// NewPromptBuilder renders prompts from source unless override is set.
func NewPromptBuilder(source PromptSource, override, goal, reference string) PromptBuilder {
	if source == nil {
		source = StaticPrompt(DefaultPrompt)
	}
	return PromptBuilder{prompts: source, override: override, goal: goal, reference: reference}
}

// System renders the system prompt for the given history.
func (b PromptBuilder) System(prior []Attempt) string {
	template := b.override
	if strings.TrimSpace(template) == "" {
		template = DefaultPrompt
		if b.prompts != nil {
			template = b.prompts.Prompt()
		}
	}

	var sb strings.Builder
	sb.WriteString(strings.Replace(template, GoalPlaceholder, b.goal, 1))

	if strings.TrimSpace(b.reference) != "" {
		sb.WriteString("\n\n## Reference Examples\n")
		sb.WriteString("Use these examples for inspiration, but create unique variations:\n\n")
		sb.WriteString(b.reference)
	}

	if len(prior) > 0 {
		sb.WriteString("\n\n## Previous Attempts (avoid repeating these techniques)\n")
		for _, a := range prior {
			fmt.Fprintf(&sb, "- Technique: %s | %s\n", a.Technique, a.Reasoning)
		}
		sb.WriteString("\nUse a DIFFERENT technique and project theme this time.")
	}
	return sb.String()
}

// User renders the per-iteration user prompt.
func (b PromptBuilder) User(iteration int) string {
	return fmt.Sprintf("Generate README #%d. Use a technique and project theme that hasn't been used yet.", iteration)
}
