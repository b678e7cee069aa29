// Package orchestrator drives one recognition request from page selection
// to an archived result: submit, poll until terminal, persist, archive.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"recognition-orchestrator/internal/models"
	"recognition-orchestrator/internal/pagerange"
	"recognition-orchestrator/internal/recognition"
	"recognition-orchestrator/internal/store"
	"recognition-orchestrator/internal/telemetry"
)

// Extractor trims a document to the pages named by a range expression.
type Extractor interface {
	Extract(ctx context.Context, doc []byte, expr string) ([]byte, error)
}

// Recognizer is the external recognition service.
type Recognizer interface {
	RecognizeSync(ctx context.Context, doc []byte, pageRange, language string) (*recognition.SyncResponse, error)
	SubmitAsync(ctx context.Context, doc []byte, pageRange, language string) string
	CheckStatus(ctx context.Context, requestID string) recognition.PollOutcome
}

// TaskStore persists the lifecycle of submitted jobs.
type TaskStore interface {
	CreateTask(ctx context.Context, p store.CreateTaskParams) (models.TaskRecord, error)
	UpdateStatus(ctx context.Context, requestID string, status models.TaskStatus) error
}

// Archiver keeps the artifacts of completed jobs.
type Archiver interface {
	Archive(ctx context.Context, requestID string, pdf []byte, result json.RawMessage) error
	StoreResult(ctx context.Context, requestID string, result json.RawMessage) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Extractor Extractor
	Client    Recognizer
	Store     TaskStore
	Archiver  Archiver
	Logger    *slog.Logger
}

// Options tune the poll loop.
type Options struct {
	MaxAttempts  int
	PollInterval time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Orchestrator holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 30
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = recognition.SleepContext
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{deps: deps, opts: opts, log: log}
}

// Request is one user's ask to recognise a page range of a document.
type Request struct {
	UserID    string
	BookName  string
	PageRange string
	Language  string
	Document  []byte
}

// Submission is a job accepted by the recognition service.
type Submission struct {
	RequestID string
	UserID    string
	BookName  string
	// Document is the extracted PDF. It may be nil when tracking a job
	// whose document was stored at submission time.
	Document []byte
	Warnings []Warning
}

// Result is the unified outcome returned to callers.
type Result struct {
	Success   bool
	Status    models.TaskStatus
	RequestID string
	Message   string
	Payload   json.RawMessage
	PDF       []byte
	Err       error
	Warnings  []Warning
}

func failure(err error) Result {
	return Result{Message: err.Error(), Err: err}
}

// Run submits req and polls the job to a terminal state.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	sub, err := o.Submit(ctx, req)
	if err != nil {
		return failure(err)
	}
	return o.Track(ctx, sub)
}

func validate(req Request, needUser bool) error {
	if len(req.Document) == 0 {
		return fmt.Errorf("%w: document is required", ErrValidation)
	}
	if needUser && strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return nil
}

// prepare extracts the requested pages and rebases the range onto them.
func (o *Orchestrator) prepare(ctx context.Context, req Request) ([]byte, string, error) {
	doc, err := o.deps.Extractor.Extract(ctx, req.Document, req.PageRange)
	if err != nil {
		return nil, "", fmt.Errorf("%w: extract pages: %w", ErrValidation, err)
	}
	normalized, err := pagerange.Normalize(req.PageRange)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return doc, normalized, nil
}

// Submit validates req, extracts its pages and hands them to the recognition
// service. A task record is created only once the service has accepted the job.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (Submission, error) {
	if err := validate(req, true); err != nil {
		return Submission{}, err
	}
	doc, normalized, err := o.prepare(ctx, req)
	if err != nil {
		return Submission{}, err
	}

	handle := o.deps.Client.SubmitAsync(ctx, doc, normalized, req.Language)
	if handle == "" {
		telemetry.SubmitFailures.Inc()
		return Submission{}, fmt.Errorf("%w: recognition service did not accept the job", ErrSubmission)
	}
	telemetry.Submitted.Inc()

	sub := Submission{RequestID: handle, UserID: req.UserID, BookName: req.BookName, Document: doc}
	log := o.logFor(sub)
	log.Info("Recognition job submitted.", "pageRange", req.PageRange, "normalizedRange", normalized)

	_, err = o.deps.Store.CreateTask(ctx, store.CreateTaskParams{
		UserID:    req.UserID,
		RequestID: handle,
		BookName:  req.BookName,
		PageRange: req.PageRange,
		Language:  req.Language,
		Status:    models.StatusRunning,
	})
	if err != nil {
		sub.Warnings = append(sub.Warnings, o.warn(log, ErrPersistence, "create task record", err))
	}
	return sub, nil
}

// Track polls a submitted job until it completes, fails, or exhausts the
// attempt budget. Cancelling ctx stops polling without a terminal transition.
func (o *Orchestrator) Track(ctx context.Context, sub Submission) Result {
	log := o.logFor(sub)
	t := tracker{o: o, log: log, requestID: sub.RequestID, current: models.StatusRunning}
	t.res = Result{RequestID: sub.RequestID, Status: models.StatusRunning, Warnings: append([]Warning(nil), sub.Warnings...)}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return t.interrupted(err)
		}
		out := o.deps.Client.CheckStatus(ctx, sub.RequestID)
		if out.State != recognition.StateRunning && ctx.Err() != nil {
			return t.interrupted(ctx.Err())
		}

		switch out.State {
		case recognition.StateRunning:
			t.transition(ctx, models.StatusRunning)
		case recognition.StateCompleted:
			return t.completed(ctx, sub.Document, out.Result)
		case recognition.StateFailed:
			telemetry.Failed.Inc()
			return t.terminal(ctx, models.StatusError, fmt.Errorf("%w: %s", ErrUpstreamPoll, out.Message), out.Message)
		default:
			telemetry.Failed.Inc()
			msg := out.Message
			if msg == "" {
				msg = fmt.Sprintf("unexpected status: %s", out.Raw)
			}
			return t.terminal(ctx, models.StatusError, fmt.Errorf("%w: %s", ErrUpstreamPoll, msg), msg)
		}

		if attempt == o.opts.MaxAttempts {
			break
		}
		if err := o.opts.Sleep(ctx, o.opts.PollInterval); err != nil {
			return t.interrupted(err)
		}
	}

	telemetry.TimedOut.Inc()
	msg := fmt.Sprintf("no result after %d status checks", o.opts.MaxAttempts)
	return t.terminal(ctx, models.StatusTimeout, fmt.Errorf("%w: %s", ErrTimeout, msg), "recognition timed out")
}

// RunSync recognises req with a single blocking request and no task record.
func (o *Orchestrator) RunSync(ctx context.Context, req Request) Result {
	if err := validate(req, false); err != nil {
		return failure(err)
	}
	doc, normalized, err := o.prepare(ctx, req)
	if err != nil {
		return failure(err)
	}
	resp, err := o.deps.Client.RecognizeSync(ctx, doc, normalized, req.Language)
	if err != nil {
		return failure(fmt.Errorf("%w: %v", ErrSubmission, err))
	}
	if !resp.OK() {
		return failure(fmt.Errorf("%w: recognition service answered %d", ErrSubmission, resp.StatusCode))
	}
	payload := json.RawMessage(resp.Body)
	if !json.Valid(resp.Body) {
		payload, _ = json.Marshal(string(resp.Body))
	}
	return Result{Success: true, Message: "recognition completed", Payload: payload, PDF: doc}
}

func (o *Orchestrator) logFor(sub Submission) *slog.Logger {
	return o.log.With("requestId", sub.RequestID, "userId", sub.UserID, "bookName", sub.BookName)
}

func (o *Orchestrator) warn(log *slog.Logger, kind error, action string, err error) Warning {
	switch kind {
	case ErrPersistence:
		telemetry.PersistenceWarning.Inc()
	case ErrArchive:
		telemetry.ArchiveWarning.Inc()
	}
	log.Warn("Non-fatal failure.", "kind", kind.Error(), "action", action, "error", err)
	return Warning{Kind: kind, Message: fmt.Sprintf("%s: %v", action, err)}
}

// tracker holds the state of one Track call.
type tracker struct {
	o         *Orchestrator
	log       *slog.Logger
	requestID string
	current   models.TaskStatus
	res       Result
	heartbeat bool
}

// transition records a status change; a terminal status is written at most once.
func (t *tracker) transition(ctx context.Context, to models.TaskStatus) {
	if !models.CanTransition(t.current, to) {
		return
	}
	t.current = to
	t.res.Status = to
	if err := t.o.deps.Store.UpdateStatus(ctx, t.requestID, to); err != nil {
		if to == models.StatusRunning {
			if t.heartbeat {
				return
			}
			t.heartbeat = true
		}
		t.res.Warnings = append(t.res.Warnings, t.o.warn(t.log, ErrPersistence, "update status to "+string(to), err))
	}
}

func (t *tracker) terminal(ctx context.Context, status models.TaskStatus, err error, msg string) Result {
	t.transition(ctx, status)
	t.res.Err = err
	t.res.Message = msg
	t.log.Info("Recognition job finished.", "status", status, "error", err)
	return t.res
}

func (t *tracker) completed(ctx context.Context, pdf []byte, result json.RawMessage) Result {
	telemetry.Completed.Inc()
	t.transition(ctx, models.StatusCompleted)

	var err error
	if pdf != nil {
		err = t.o.deps.Archiver.Archive(ctx, t.requestID, pdf, result)
	} else {
		err = t.o.deps.Archiver.StoreResult(ctx, t.requestID, result)
	}
	if err != nil {
		t.res.Warnings = append(t.res.Warnings, t.o.warn(t.log, ErrArchive, "archive artifacts", err))
	}

	t.res.Success = true
	t.res.Message = "recognition completed"
	t.res.Payload = result
	t.res.PDF = pdf
	t.log.Info("Recognition job finished.", "status", models.StatusCompleted)
	return t.res
}

func (t *tracker) interrupted(err error) Result {
	t.res.Err = err
	t.res.Message = "polling interrupted before the job finished"
	t.log.Warn("Polling interrupted.", "status", t.current, "error", err)
	return t.res
}
