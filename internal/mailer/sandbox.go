package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/iase/mailmerge/internal/storage"
)

// ErrSimulatedFailure is returned when the sandbox simulates a failed send
var ErrSimulatedFailure = errors.New("simulated delivery failure")

// Outbox stores captured messages
type Outbox interface {
	SaveOutbox(ctx context.Context, msg *storage.OutboxMessage) error
}

// SandboxMailer captures messages into the outbox instead of delivering them
type SandboxMailer struct {
	outbox      Outbox
	logger      *slog.Logger
	failureRate float64 // 0.0 to 1.0
}

// NewSandboxMailer creates a new sandbox mailer
func NewSandboxMailer(outbox Outbox, logger *slog.Logger) *SandboxMailer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SandboxMailer{
		outbox: outbox,
		logger: logger.With("component", "sandbox_mailer"),
	}
}

// SetFailureRate makes Send fail with the given probability
func (s *SandboxMailer) SetFailureRate(rate float64) {
	if rate >= 0 && rate <= 1 {
		s.failureRate = rate
	}
}

// Send builds the message and stores it in the outbox
func (s *SandboxMailer) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.failureRate > 0 && rand.Float64() < s.failureRate {
		s.logger.Info("simulating delivery failure", "to", msg.To)
		return ErrSimulatedFailure
	}

	data, err := msg.Build()
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	captured := &storage.OutboxMessage{
		ID:         msg.ID,
		From:       msg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		UID:        msg.UID,
		SessionID:  msg.SessionID,
		Data:       data,
		CapturedAt: time.Now(),
	}

	if err := s.outbox.SaveOutbox(ctx, captured); err != nil {
		return fmt.Errorf("failed to capture message: %w", err)
	}

	s.logger.Info("message captured",
		"message_id", msg.ID,
		"to", msg.To,
		"size", len(data),
	)

	return nil
}
