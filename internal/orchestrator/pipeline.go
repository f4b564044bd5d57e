package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/PastorStudio/geminiaicrm-sub003/internal/clock"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/events"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/responder"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/store"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/transport"
	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

const (
	defaultMaxAttempts     = 3
	defaultGenerateTimeout = 30 * time.Second
	fallbackSendTimeout    = 10 * time.Second
)

// defaultBackoff yields 1s, 3s, 9s between attempts. Randomization is off
// so retry timing is predictable.
func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 3
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	return b
}

// PipelineConfig tunes the response pipeline.
type PipelineConfig struct {
	MaxAttempts     int
	GenerateTimeout time.Duration
	NewBackoff      func() backoff.BackOff
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = defaultGenerateTimeout
	}
	if c.NewBackoff == nil {
		c.NewBackoff = defaultBackoff
	}
	return c
}

// pipelineStore is what the pipeline needs from persistence.
type pipelineStore interface {
	store.MarkerStore
	store.JobArchive
}

// Pipeline generates and delivers replies. One job per chat runs at a
// time (enforced by the guard, which the monitor acquires before calling
// Run and the pipeline releases on any terminal outcome).
type Pipeline struct {
	transport transport.Transport
	responder responder.Responder
	store     pipelineStore
	guard     *Guard
	bus       *events.Bus
	clock     clock.Clock
	cfg       PipelineConfig
	logger    *slog.Logger
}

// NewPipeline creates a response pipeline.
func NewPipeline(tr transport.Transport, rs responder.Responder, st pipelineStore, guard *Guard, bus *events.Bus, clk clock.Clock, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Pipeline{
		transport: tr,
		responder: rs,
		store:     st,
		guard:     guard,
		bus:       bus,
		clock:     clk,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// NewJob builds a pending job for an inbound message.
func (p *Pipeline) NewJob(msg protocol.InboundMessage) *protocol.ResponseJob {
	return &protocol.ResponseJob{
		ID:         uuid.NewString(),
		AccountID:  msg.AccountID,
		ChatID:     msg.ChatID,
		MessageKey: msg.Key(),
		Status:     protocol.JobPending,
		CreatedAt:  p.clock.Now(),
	}
}

// Run drives the job to a terminal state. ctx is the account runtime
// context: cancelling it (account disabled, daemon shutdown) abandons the
// job without delivering. The guard lock for the job's chat must be held
// by the caller; Run releases it.
func (p *Pipeline) Run(ctx context.Context, job *protocol.ResponseJob, msg protocol.InboundMessage, cfg protocol.AccountConfig) {
	defer p.guard.Release(job.AccountID, job.ChatID)

	log := p.logger.With("job", job.ID, "account", job.AccountID, "chat", job.ChatID)

	// Simulated human latency before the first attempt.
	if delay := time.Duration(cfg.ResponseDelaySeconds) * time.Second; delay > 0 {
		if !p.wait(ctx, delay) {
			p.abandon(job, log)
			return
		}
	}

	retry := p.cfg.NewBackoff()
	var text string
	for job.Attempts < p.cfg.MaxAttempts {
		job.Attempts++
		job.Status = protocol.JobInFlight

		err := p.attempt(ctx, job, msg, cfg, &text)
		if err == nil {
			p.delivered(ctx, job, log)
			return
		}
		if ctx.Err() != nil {
			p.abandon(job, log)
			return
		}

		job.Error = err.Error()
		log.Warn("response attempt failed", "attempt", job.Attempts, "error", err)

		if job.Attempts >= p.cfg.MaxAttempts {
			break
		}
		job.Status = protocol.JobPending
		if !p.wait(ctx, retry.NextBackOff()) {
			p.abandon(job, log)
			return
		}
	}

	p.failed(ctx, job, cfg, log)
}

// attempt runs one generate-then-send cycle. The generated text is kept in
// *text across attempts so a send failure retries delivery of the same
// reply instead of generating a second, inconsistent one.
func (p *Pipeline) attempt(ctx context.Context, job *protocol.ResponseJob, msg protocol.InboundMessage, cfg protocol.AccountConfig, text *string) error {
	if *text == "" {
		genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
		defer cancel()

		generated, err := p.responder.Generate(genCtx, responder.Request{
			ResponderID: cfg.ResponderID,
			AccountID:   job.AccountID,
			ChatID:      job.ChatID,
			Text:        msg.Body,
		})
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		*text = generated
	}

	if err := p.transport.Send(ctx, job.AccountID, job.ChatID, *text); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (p *Pipeline) delivered(ctx context.Context, job *protocol.ResponseJob, log *slog.Logger) {
	job.Status = protocol.JobDelivered
	job.Error = ""
	if err := p.store.SetLastProcessedKey(job.AccountID, job.ChatID, job.MessageKey, p.clock.Now()); err != nil {
		log.Error("failed to persist processed marker", "error", err)
	}
	p.archive(job)
	p.bus.Emit(ctx, events.Event{
		Type:       events.JobDelivered,
		AccountID:  job.AccountID,
		ChatID:     job.ChatID,
		MessageKey: job.MessageKey,
		Attempts:   job.Attempts,
	})
	log.Info("response delivered", "attempts", job.Attempts)
}

func (p *Pipeline) failed(ctx context.Context, job *protocol.ResponseJob, cfg protocol.AccountConfig, log *slog.Logger) {
	job.Status = protocol.JobFailed
	p.archive(job)
	p.bus.Emit(ctx, events.Event{
		Type:       events.JobFailed,
		AccountID:  job.AccountID,
		ChatID:     job.ChatID,
		MessageKey: job.MessageKey,
		Attempts:   job.Attempts,
		Error:      job.Error,
	})
	log.Error("response failed after retries", "attempts", job.Attempts, "error", job.Error)

	// Per-account policy: a neutral fallback goes out best-effort; its
	// failure never resurrects the job.
	if cfg.FallbackMessage != "" && ctx.Err() == nil {
		sendCtx, cancel := context.WithTimeout(ctx, fallbackSendTimeout)
		defer cancel()
		if err := p.transport.Send(sendCtx, job.AccountID, job.ChatID, cfg.FallbackMessage); err != nil {
			log.Warn("fallback message send failed", "error", err)
		}
	}
}

func (p *Pipeline) abandon(job *protocol.ResponseJob, log *slog.Logger) {
	job.Status = protocol.JobFailed
	if job.Error == "" {
		job.Error = "abandoned: account disabled or shutting down"
	}
	p.archive(job)
	// The account context is gone; emit with a fresh one.
	p.bus.Emit(context.Background(), events.Event{
		Type:       events.JobAbandoned,
		AccountID:  job.AccountID,
		ChatID:     job.ChatID,
		MessageKey: job.MessageKey,
		Attempts:   job.Attempts,
	})
	log.Info("job abandoned", "attempts", job.Attempts)
}

func (p *Pipeline) archive(job *protocol.ResponseJob) {
	if err := p.store.ArchiveJob(job, p.clock.Now()); err != nil {
		p.logger.Error("failed to archive job", "job", job.ID, "error", err)
	}
}

// wait sleeps via the injected clock; returns false if ctx was cancelled.
func (p *Pipeline) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return ctx.Err() == nil
	}
}
