package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/repoloop/internal/generator"
	"github.com/zjrosen/repoloop/internal/log"
	"github.com/zjrosen/repoloop/internal/tracing"
)

// runner drives one session through its iterations.
type runner struct {
	session *Session
	signals *Signals
	bus     *Bus
	gen     generator.Generator
	pub     Publisher
	store   Store
	tracer  trace.Tracer
	delay   time.Duration
	name    NameFunc

	iterations int
	prefix     string
}

func (r *runner) run(ctx context.Context) {
	ctx, span := tracing.Start(ctx, r.tracer, tracing.SpanSession,
		attribute.String(tracing.AttrSessionID, r.session.ID.String()),
		attribute.Int(tracing.AttrIterations, r.iterations),
	)

	defer func() {
		if p := recover(); p != nil {
			log.Error(log.CatSession, "session runner panicked", "id", r.session.ID, "panic", p, "stack", string(debug.Stack()))
			r.session.failOpen(fmt.Sprintf("panic: %v", p))
			r.session.finish(StatusError, time.Now())
			r.bus.Error(fmt.Sprintf("session failed: %v", p))
			r.bus.Status(StatusError, nil)
			persistSnapshot(ctx, r.store, r.session)
			tracing.End(span, fmt.Errorf("panic: %v", p))
		}
	}()

	r.bus.Status(StatusRunning, nil)

	aborted := false
	for i := 1; i <= r.iterations; i++ {
		if r.aborted(ctx) || r.holdWhilePaused(ctx, span, i) {
			aborted = true
			span.AddEvent(tracing.EventAborted)
			r.bus.Status(StatusDone, abortedDetails())
			break
		}

		r.iterate(ctx, i)

		if i < r.iterations && !r.aborted(ctx) {
			r.bus.Log(fmt.Sprintf("Waiting %s before next iteration...", r.delay))
			r.pace(ctx, span, i+1, time.Now().Add(r.delay))
		}
	}

	r.complete(ctx, aborted)
	tracing.End(span, nil)
}

// holdWhilePaused blocks while the session is paused before iteration i.
// It reports true when the session was aborted or ctx ended meanwhile.
func (r *runner) holdWhilePaused(ctx context.Context, span trace.Span, i int) bool {
	if !r.signals.IsPaused() {
		return false
	}
	r.session.setStatus(StatusPaused)
	r.bus.Status(StatusPaused, map[string]any{"currentIteration": i})
	span.AddEvent(tracing.EventPaused)
	persistSnapshot(ctx, r.store, r.session)

	stopped, err := r.signals.WaitResumed(ctx)
	if stopped || err != nil {
		return true
	}
	r.session.setStatus(StatusRunning)
	r.bus.Status(StatusRunning, nil)
	span.AddEvent(tracing.EventResumed)
	return false
}

// pace waits until deadline before iteration next. A pause taken during the
// wait is held in place, and resuming goes back to waiting out whatever is
// left of the deadline. Abort ends the wait.
func (r *runner) pace(ctx context.Context, span trace.Span, next int, deadline time.Time) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || r.aborted(ctx) {
			return
		}
		if r.signals.Sleep(ctx, remaining) {
			return
		}
		if r.holdWhilePaused(ctx, span, next) {
			return
		}
	}
}

func abortedDetails() map[string]any {
	return map[string]any{"reason": "aborted"}
}

func (r *runner) aborted(ctx context.Context) bool {
	return r.signals.IsAborted() || ctx.Err() != nil
}

// iterate runs one generate-then-publish attempt. Failures are recorded on
// the iteration's record and never stop the session.
func (r *runner) iterate(ctx context.Context, i int) {
	name := r.name(r.prefix, i)
	ctx, span := tracing.Start(ctx, r.tracer, tracing.SpanIteration,
		attribute.String(tracing.AttrSessionID, r.session.ID.String()),
		attribute.Int(tracing.AttrIteration, i),
		attribute.String(tracing.AttrRepoName, name),
	)

	idx := r.session.beginRecord(i, name)
	r.bus.Publish(EventGenerationStart, GenerationStartPayload{Iteration: i, Total: r.iterations, RepoName: name})
	r.logf(i, "Generating README for %s...", name)

	prior := r.session.history()
	result, err := r.generate(ctx, i, prior)
	if err != nil {
		r.fail(ctx, idx, i, name, err)
		tracing.End(span, err)
		return
	}

	r.session.update(idx, func(rec *Record) {
		rec.Content = result.Content
		rec.Technique = result.Technique
		rec.Reasoning = result.Reasoning
		rec.Theme = result.ProjectTheme
	})
	span.SetAttributes(attribute.String(tracing.AttrTechnique, result.Technique))
	r.bus.Publish(EventGenerationComplete, GenerationCompletePayload{
		Iteration:    i,
		Technique:    result.Technique,
		Reasoning:    result.Reasoning,
		ProjectTheme: result.ProjectTheme,
		ReadmeLength: len(result.Content),
	})
	r.logf(i, "Generated: technique=%q, theme=%q", result.Technique, result.ProjectTheme)
	r.reportNovelty(i, result.Content, prior)

	if err := r.session.transition(idx, RecordCreating, nil); err != nil {
		r.fail(ctx, idx, i, name, err)
		tracing.End(span, err)
		return
	}
	r.bus.Publish(EventRepoCreating, RepoCreatingPayload{Iteration: i, RepoName: name})
	r.logf(i, "Creating repo %s via gh CLI...", name)

	url, err := r.publish(ctx, name, description(result.ProjectTheme), result.Content)
	if err != nil {
		r.fail(ctx, idx, i, name, err)
		tracing.End(span, err)
		return
	}

	now := time.Now()
	if err := r.session.transition(idx, RecordCreated, func(rec *Record) {
		rec.RepoURL = &url
		rec.CreatedAt = &now
	}); err != nil {
		log.ErrorErr(log.CatSession, "could not mark record created", err, "iteration", i, "url", url)
	}
	span.SetAttributes(attribute.String(tracing.AttrRepoURL, url))
	r.bus.Publish(EventRepoCreated, RepoCreatedPayload{
		Iteration: i,
		RepoName:  name,
		RepoURL:   url,
		Technique: result.Technique,
	})
	r.logf(i, "Repo created: %s", url)
	persistSnapshot(ctx, r.store, r.session)
	tracing.End(span, nil)
}

func (r *runner) generate(ctx context.Context, i int, prior []Attempt) (*generator.Result, error) {
	ctx, span := tracing.Start(ctx, r.tracer, tracing.SpanGenerate, attribute.Int(tracing.AttrIteration, i))

	attempts := make([]generator.Attempt, 0, len(prior))
	for _, a := range prior {
		attempts = append(attempts, generator.Attempt{Technique: a.Technique, Reasoning: a.Reasoning})
	}

	result, err := r.gen.Generate(ctx, generator.Request{Iteration: i, PriorAttempts: attempts})
	if err == nil && result == nil {
		err = generator.ErrEmptyResponse
	}
	tracing.End(span, err)
	return result, err
}

func (r *runner) publish(ctx context.Context, name, desc, content string) (string, error) {
	ctx, span := tracing.Start(ctx, r.tracer, tracing.SpanPublish, attribute.String(tracing.AttrRepoName, name))
	url, err := r.pub.Publish(ctx, name, desc, content)
	tracing.End(span, err)
	return url, err
}

func (r *runner) fail(ctx context.Context, idx, i int, name string, cause error) {
	msg := cause.Error()
	if err := r.session.transition(idx, RecordError, func(rec *Record) {
		rec.Error = msg
	}); err != nil {
		log.ErrorErr(log.CatSession, "could not mark record failed", err, "iteration", i)
	}
	r.bus.Publish(EventRepoError, RepoErrorPayload{Iteration: i, RepoName: name, Error: msg})
	r.logf(i, "ERROR: %s", msg)
	persistSnapshot(ctx, r.store, r.session)
}

// reportNovelty logs how much of content overlaps the closest earlier output.
func (r *runner) reportNovelty(i int, content string, prior []Attempt) {
	earlier := make([]string, 0, len(prior))
	for _, a := range prior {
		if a.Content != "" {
			earlier = append(earlier, a.Content)
		}
	}
	if len(earlier) == 0 {
		return
	}
	overlap := 1 - generator.Novelty(content, earlier)
	r.logf(i, "Overlap with closest earlier README: %.0f%%", overlap*100)
}

// complete closes the session. The final status event repeats the abort
// reason so observers that only read the last status still see it.
func (r *runner) complete(ctx context.Context, aborted bool) {
	summary := r.session.finish(StatusDone, time.Now())
	r.bus.Publish(EventSessionComplete, summary)
	var details map[string]any
	if aborted {
		details = abortedDetails()
	}
	r.bus.Status(StatusDone, details)
	r.bus.Log(fmt.Sprintf("Session complete. Created: %d, Errors: %d", summary.TotalCreated, summary.TotalErrors))
	log.Info(log.CatSession, "session complete", "id", r.session.ID, "created", summary.TotalCreated, "errors", summary.TotalErrors)
	persistSnapshot(ctx, r.store, r.session)
}

func (r *runner) logf(i int, format string, args ...any) {
	r.bus.Log(fmt.Sprintf("[%d/%d] ", i, r.iterations) + fmt.Sprintf(format, args...))
}

func description(theme string) string {
	if theme == "" || theme == generator.UnknownTheme {
		return DefaultDescription
	}
	return theme
}
