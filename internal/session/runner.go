package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iase/mailmerge/internal/contact"
	"github.com/iase/mailmerge/internal/mailer"
	"github.com/iase/mailmerge/internal/metrics"
	"github.com/iase/mailmerge/internal/storage"
	"github.com/iase/mailmerge/internal/template"
)

var errContactGone = errors.New("contact is no longer active")

// Store is the persistence the runner needs
type Store interface {
	LoadContacts(ctx context.Context) (contact.Store, error)
	UpdateContacts(ctx context.Context, fn func(contact.Store) (contact.Store, error)) (contact.Store, error)
	AppendLog(ctx context.Context, entry *storage.LogEntry) error
}

// Config holds the sender identity and session defaults
type Config struct {
	From     string
	FromName string
	ReplyTo  string
	Mode     string // mailer mode, used as a metrics label
	Defaults Request
}

// Plan is a validated session: the letter, the resolved subject and the
// contacts to email in order
type Plan struct {
	Request  Request
	Letter   *template.Letter
	Subject  string
	Contacts []contact.Contact
	single   bool
}

// Runner executes sending sessions, one at a time
type Runner struct {
	store   Store
	mailer  mailer.Mailer
	catalog *template.Catalog
	engine  *template.Engine
	cfg     Config
	logger  *slog.Logger

	// wait pauses between emails; replaced in tests
	wait func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	progress Progress
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRunner creates a new session runner
func NewRunner(cfg Config, store Store, m mailer.Mailer, catalog *template.Catalog, engine *template.Engine, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		store:    store,
		mailer:   m,
		catalog:  catalog,
		engine:   engine,
		cfg:      cfg,
		logger:   logger.With("component", "session"),
		wait:     sleep,
		progress: Progress{Status: StatusIdle},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DefaultRequest returns a request filled from the configured defaults
func (r *Runner) DefaultRequest() Request {
	req := r.cfg.Defaults
	req.Nations = append([]string(nil), r.cfg.Defaults.Nations...)
	return req
}

// Plan validates req and computes the contacts to email
func (r *Runner) Plan(ctx context.Context, req Request) (*Plan, error) {
	if req.Delay < MinDelay {
		return nil, fmt.Errorf("delay must be at least %s", MinDelay)
	}
	if req.RandomWindow < 0 || req.FinalDelay < 0 {
		return nil, fmt.Errorf("random window and final delay must not be negative")
	}
	if req.MaxCount < 0 {
		return nil, fmt.Errorf("max count must not be negative")
	}

	letter, err := r.catalog.Letter(req.Language, req.Letter)
	if err != nil {
		return nil, err
	}
	subject, err := letter.ResolveSubject(req.SubjectOption, req.CustomSubject)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Request: req, Letter: letter, Subject: subject}

	if req.Single != nil {
		if err := req.Single.Validate(); err != nil {
			return nil, err
		}
		plan.single = true
		plan.Contacts = []contact.Contact{{Name: req.Single.Name, Email: req.Single.Email}}
		return plan, nil
	}

	if len(req.Nations) == 0 {
		return nil, fmt.Errorf("select at least one nation")
	}

	store, err := r.store.LoadContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}

	sel := contact.Select(store, contact.Selection{Nations: req.Nations, MaxCount: req.MaxCount})
	if len(sel.Eligible) == 0 {
		return nil, ErrNoContacts
	}
	plan.Contacts = sel.Eligible

	return plan, nil
}

// Run executes a session and blocks until it finishes or ctx is cancelled
func (r *Runner) Run(ctx context.Context, req Request) (Progress, error) {
	plan, err := r.Plan(ctx, req)
	if err != nil {
		return r.Progress(), err
	}

	runCtx, id, err := r.begin(ctx, plan)
	if err != nil {
		return r.Progress(), err
	}

	r.runSession(runCtx, id, plan)
	return r.Progress(), nil
}

// Start launches a session in the background and returns its initial progress.
// The session outlives ctx; use Cancel to stop it.
func (r *Runner) Start(ctx context.Context, req Request) (Progress, error) {
	plan, err := r.Plan(ctx, req)
	if err != nil {
		return r.Progress(), err
	}

	runCtx, id, err := r.begin(context.WithoutCancel(ctx), plan)
	if err != nil {
		return r.Progress(), err
	}

	go r.runSession(runCtx, id, plan)

	return r.Progress(), nil
}

// Cancel asks the running session to stop before the next email
func (r *Runner) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress.Status != StatusRunning || r.cancel == nil {
		return ErrNotRunning
	}
	r.cancel()
	r.logger.Info("session cancel requested", "session_id", r.progress.SessionID)
	return nil
}

// Wait blocks until the running session, if any, has finished
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Progress returns a snapshot of the current or last session
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.progress
	switch {
	case p.StartedAt.IsZero():
	case p.FinishedAt.IsZero():
		p.Elapsed = time.Since(p.StartedAt).Round(time.Second).String()
	default:
		p.Elapsed = p.FinishedAt.Sub(p.StartedAt).Round(time.Second).String()
	}
	return p
}

func (r *Runner) begin(parent context.Context, plan *Plan) (context.Context, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress.Status == StatusRunning {
		return nil, "", ErrSessionRunning
	}

	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()

	r.cancel = cancel
	r.done = make(chan struct{})
	metrics.SetSessionActive(true)
	r.progress = Progress{
		SessionID: id,
		Status:    StatusRunning,
		Subject:   plan.Subject,
		Total:     len(plan.Contacts),
		StartedAt: time.Now(),
	}
	if len(plan.Contacts) > 0 {
		r.progress.NextName = plan.Contacts[0].Name
	}

	return ctx, id, nil
}

// runSession executes plan and then releases the runner. A session that
// panics is recorded as cancelled.
func (r *Runner) runSession(ctx context.Context, id string, plan *Plan) {
	status := StatusCancelled
	defer func() { r.finish(status) }()
	status = r.execute(ctx, id, plan)
}

// finish publishes the final status and releases the session's cancel func
// and done channel under one lock; begin cannot interleave with it.
func (r *Runner) finish(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress.Status = status
	r.progress.FinishedAt = time.Now()
	r.progress.NextName = ""
	metrics.SetSessionActive(false)

	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
}

func (r *Runner) update(fn func(p *Progress)) {
	r.mu.Lock()
	fn(&r.progress)
	r.mu.Unlock()
}

// execute sends to every contact of plan and returns the final status.
// The runner stays in StatusRunning until finish.
func (r *Runner) execute(ctx context.Context, id string, plan *Plan) Status {
	logger := r.logger.With("session_id", id)
	logger.Info("session started", "contacts", len(plan.Contacts), "subject", plan.Subject)

	sent, cancelled := 0, false

	for i, c := range plan.Contacts {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		r.update(func(p *Progress) {
			p.Current = i + 1
			p.NextName = c.Name
		})

		if err := r.sendOne(ctx, id, plan, c); err != nil {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			logger.Warn("failed to send email", "uid", c.UID, "to", c.Email, "error", err)
			r.appendLog(storage.LevelError, fmt.Sprintf("Failed to send email to %s - %s", c.Name, c.Email), id, c.UID)
			metrics.IncEmailsFailed(r.cfg.Mode)
			r.update(func(p *Progress) { p.Failed++ })
			continue
		}

		sent++
		metrics.IncEmailsSent(r.cfg.Mode)
		r.update(func(p *Progress) { p.Sent++ })
		r.appendLog(storage.LevelInfo, fmt.Sprintf("Email sent to %s - %s", c.Name, c.Email), id, c.UID)

		delay, window := plan.Request.Delay, plan.Request.RandomWindow
		if i == len(plan.Contacts)-1 {
			// the last email only waits the fixed final delay
			delay, window = plan.Request.FinalDelay, 0
		}
		if err := r.pause(ctx, delay, window); err != nil {
			cancelled = i < len(plan.Contacts)-1
			break
		}
	}

	status := StatusFinished
	if cancelled {
		status = StatusCancelled
		r.appendLog(storage.LevelInfo, "Sending stopped by user...", id, 0)
	} else {
		r.appendLog(storage.LevelInfo, fmt.Sprintf("Session finished! %d emails were sent.", sent), id, 0)
	}

	metrics.IncSessions(string(status))

	logger.Info("session ended", "status", status, "sent", sent, "total", len(plan.Contacts))
	return status
}

func (r *Runner) sendOne(ctx context.Context, id string, plan *Plan, c contact.Contact) error {
	rendered, err := r.engine.Render(plan.Letter, plan.Subject, template.DataFor(c))
	if err != nil {
		return fmt.Errorf("failed to render letter: %w", err)
	}

	msg := &mailer.Message{
		From:      r.cfg.From,
		FromName:  r.cfg.FromName,
		ReplyTo:   r.cfg.ReplyTo,
		To:        c.Email,
		ToName:    c.Name,
		Subject:   rendered.Subject,
		Text:      rendered.Text,
		HTML:      rendered.HTML,
		UID:       c.UID,
		SessionID: id,
	}
	if err := r.mailer.Send(ctx, msg); err != nil {
		return err
	}

	if plan.single {
		return nil
	}

	// the email is out; record it even if the session is being cancelled
	_, err = r.store.UpdateContacts(context.WithoutCancel(ctx), func(s contact.Store) (contact.Store, error) {
		next, ok := contact.RecordSent(s, c.UID, time.Now().UnixMilli())
		if !ok {
			return s, errContactGone
		}
		return next, nil
	})
	if err != nil {
		r.logger.Warn("email sent but not recorded", "session_id", id, "uid", c.UID, "error", err)
	}
	return nil
}

func (r *Runner) pause(ctx context.Context, delay, window time.Duration) error {
	d := delay
	if window > 0 {
		d += time.Duration(rand.Int63n(int64(window) + 1))
	}
	return r.wait(ctx, d)
}

func (r *Runner) appendLog(level, message, sessionID string, uid int64) {
	entry := &storage.LogEntry{
		Level:     level,
		Message:   message,
		SessionID: sessionID,
		UID:       uid,
	}
	if err := r.store.AppendLog(context.Background(), entry); err != nil {
		r.logger.Error("failed to append sending log", "error", err)
	}
}
