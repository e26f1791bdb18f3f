package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/studio-engine/pkg/client"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/logging"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

// ErrInvalidDataURL is returned when an output image cannot be used as a
// reference.
var ErrInvalidDataURL = errors.New("output image is not a base64 data url")

// Job is one photo session request.
type Job struct {
	Settings   studio.Settings
	References []studio.Reference

	// Continue appends to the current session.
	Continue bool

	// Count overrides Settings.ImageCount when positive.
	Count int

	// Reservation is a token from Orchestrator.Reserve, if the caller
	// claimed the orchestrator in advance.
	Reservation *Token
}

// StudioRunner drives photo sessions: it plans requests with the studio
// package and executes them through the credential pool.
type StudioRunner struct {
	orch   *Orchestrator
	pool   *credential.Pool
	client *client.Client
	logger zerolog.Logger

	mu                sync.Mutex
	rng               *rand.Rand
	studioDescription string
}

// NewStudioRunner creates a runner.
func NewStudioRunner(orch *Orchestrator, pool *credential.Pool, c *client.Client) *StudioRunner {
	return &StudioRunner{
		orch:   orch,
		pool:   pool,
		client: c,
		logger: logging.NewLogger(logging.ComponentRunner),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Orchestrator returns the underlying orchestrator.
func (r *StudioRunner) Orchestrator() *Orchestrator {
	return r.orch
}

// StudioDescription returns the studio set shared by the current session.
func (r *StudioRunner) StudioDescription() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.studioDescription
}

// Run executes job and blocks until the batch finishes.
func (r *StudioRunner) Run(ctx context.Context, job Job) Result {
	settings := job.Settings.Normalize()
	count := job.Count
	if count <= 0 {
		count = settings.ImageCount
	}

	var (
		scenarios []studio.Scenario
		planner   *studio.Planner
	)

	return Run(ctx, r.orch, Params[studio.Request]{
		Count:       count,
		Delay:       settings.DelayDuration(),
		Continue:    job.Continue,
		Reservation: job.Reservation,
		Precheck: func() error {
			return studio.Preconditions(settings, job.References)
		},
		Prepare: func(ctx context.Context, status credential.StatusFunc) error {
			desc := r.resolveStudio(ctx, settings, job.Continue, status)
			scenarios = studio.PadScenarios(r.scenarios(ctx, settings, count, status), count)
			planner = studio.NewPlanner(settings, job.References, desc, r.newRand())
			status("Preparation complete. Starting the photo session...")
			return nil
		},
		Build: func(index int) studio.Request {
			return planner.RequestFor(index, scenarios)
		},
		Execute: func(ctx context.Context, req studio.Request, status credential.StatusFunc) (Output, error) {
			img, err := credential.Call(ctx, r.pool, r.client.ImageCall(req), status)
			if err != nil {
				return Output{}, err
			}
			return NewOutput(img.DataURL(), req.Describe()), nil
		},
	})
}

// resolveStudio returns the studio set description for studio themes. A fresh
// run designs a new set; a continuation reuses the session's set. A failed
// design is tolerated and leaves the backdrop to vary per output.
func (r *StudioRunner) resolveStudio(ctx context.Context, s studio.Settings, continuation bool, status credential.StatusFunc) string {
	theme := s.Theme()
	if !studio.IsStudioTheme(theme) {
		if !continuation {
			r.setStudioDescription("")
		}
		return ""
	}
	if continuation {
		return r.StudioDescription()
	}

	status("Designing the virtual studio...")
	desc, err := credential.Call(ctx, r.pool, r.client.TextCall(studio.StudioPrompt(theme)), status)
	if err != nil {
		r.logger.Warn().Err(err).Str("theme", theme).Msg("Studio design failed, backdrop will vary")
		desc = ""
	}
	r.setStudioDescription(desc)
	return desc
}

// scenarios returns n scenarios: the custom scenario repeated, generated
// scenarios, or shuffled fallbacks when generation fails.
func (r *StudioRunner) scenarios(ctx context.Context, s studio.Settings, n int, status credential.StatusFunc) []studio.Scenario {
	if s.UseCustomTheme {
		status("Using the custom scenario...")
		return studio.Repeat(studio.CustomScenario(s), n)
	}

	theme := s.Theme()
	status(fmt.Sprintf("Creating scenarios for %s...", theme))
	text, err := credential.Call(ctx, r.pool, r.client.TextCall(studio.ScenarioPrompt(theme, n)), status)
	if err == nil {
		var list []studio.Scenario
		if list, err = studio.ParseScenarios(text); err == nil {
			return list
		}
	}

	r.logger.Warn().Err(err).Str("theme", theme).Msg("Scenario generation failed, using fallback scenarios")
	status("Scenario generation failed, using fallback scenarios...")
	r.mu.Lock()
	defer r.mu.Unlock()
	return studio.FallbackFor(n, r.rng)
}

// Regenerate renders prompt with refs and replaces output id in place.
func (r *StudioRunner) Regenerate(ctx context.Context, id, prompt string, refs []studio.Reference) (Output, error) {
	if _, ok := r.orch.Outputs().Get(id); !ok {
		return Output{}, ErrOutputNotFound
	}

	img, err := credential.Call(ctx, r.pool, r.client.RegenerateCall(prompt, refs), nil)
	if err != nil {
		r.logger.Warn().Err(err).Str("output_id", id).Msg("Regeneration failed")
		return Output{}, err
	}
	if err := r.orch.Outputs().Replace(id, img.DataURL(), prompt); err != nil {
		return Output{}, err
	}
	out, _ := r.orch.Outputs().Get(id)
	return out, nil
}

// Variation replaces output id with a subtle variation of itself.
func (r *StudioRunner) Variation(ctx context.Context, id string) (Output, error) {
	ref, err := r.outputReference(id)
	if err != nil {
		return Output{}, err
	}
	return r.Regenerate(ctx, id, studio.VariationPrompt, []studio.Reference{ref})
}

// Edit applies a single instruction to output id.
func (r *StudioRunner) Edit(ctx context.Context, id, instruction string) (Output, error) {
	ref, err := r.outputReference(id)
	if err != nil {
		return Output{}, err
	}
	return r.Regenerate(ctx, id, studio.EditPrompt(instruction), []studio.Reference{ref})
}

func (r *StudioRunner) outputReference(id string) (studio.Reference, error) {
	out, ok := r.orch.Outputs().Get(id)
	if !ok {
		return studio.Reference{}, ErrOutputNotFound
	}
	mime, data, err := parseDataURL(out.Image)
	if err != nil {
		return studio.Reference{}, err
	}
	return studio.Reference{ID: "var-" + id, Subject: studio.SubjectCouple, Angle: studio.AngleFront, MimeType: mime, Data: data}, nil
}

func (r *StudioRunner) setStudioDescription(desc string) {
	r.mu.Lock()
	r.studioDescription = desc
	r.mu.Unlock()
}

func (r *StudioRunner) newRand() *rand.Rand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rand.New(rand.NewSource(r.rng.Int63()))
}

// parseDataURL splits "data:<mime>;base64,<data>".
func parseDataURL(url string) (mime, data string, err error) {
	header, payload, ok := strings.Cut(url, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return "", "", ErrInvalidDataURL
	}
	mime = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	if mime == "" {
		mime = "image/jpeg"
	}
	return mime, payload, nil
}
