package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"recognition-orchestrator/internal/archive"
	"recognition-orchestrator/internal/config"
	"recognition-orchestrator/internal/models"
	"recognition-orchestrator/internal/orchestrator"
	"recognition-orchestrator/internal/telemetry"
)

// Recognizer runs recognition workflows.
type Recognizer interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.Result
	RunSync(ctx context.Context, req orchestrator.Request) orchestrator.Result
	Submit(ctx context.Context, req orchestrator.Request) (orchestrator.Submission, error)
}

// History lists a user's tasks.
type History interface {
	ListByUser(ctx context.Context, userID string) ([]models.TaskRecord, error)
}

// Artifacts reads and stashes archived artifacts.
type Artifacts interface {
	StoreDocument(ctx context.Context, requestID string, pdf []byte) error
	Fetch(ctx context.Context, requestID string) ([]byte, json.RawMessage, error)
}

// Enqueuer hands submitted jobs to poll workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, requestID string) error
}

// Server wires HTTP handlers for the recognition API.
type Server struct {
	cfg       config.Config
	recognize Recognizer
	history   History
	artifacts Artifacts
	queue     Enqueuer
	log       *slog.Logger
}

// New constructs the API server. q may be nil, which disables async mode.
func New(cfg config.Config, r Recognizer, h History, a Artifacts, q Enqueuer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, recognize: r, history: h, artifacts: a, queue: q, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/recognition", s.handleRecognition)
	r.Post("/recognition/sync", s.handleRecognitionSync)
	r.Get("/history", s.handleHistory)
	r.Post("/results", s.handleResults)
	return r
}

type envelope struct {
	Status   string `json:"status"`
	Data     any    `json:"data"`
	ErrorMsg string `json:"error_msg"`
}

type recognitionResponse struct {
	Status    string          `json:"status"`
	RequestID string          `json:"requestId,omitempty"`
	Result    json.RawMessage `json:"result"`
	PDF       string          `json:"pdf,omitempty"`
}

func (s *Server) userID(r *http.Request) string {
	c, err := r.Cookie(s.cfg.UserCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// readRequest parses the multipart upload into an orchestrator request.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (orchestrator.Request, error) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return orchestrator.Request{}, errors.New("invalid multipart upload")
	}
	req := orchestrator.Request{
		UserID:    s.userID(r),
		PageRange: r.FormValue("pageNum"),
		BookName:  r.FormValue("bookName"),
		Language:  r.URL.Query().Get("language"),
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return req, errors.New("file is required")
	}
	defer file.Close()
	if req.BookName == "" {
		req.BookName = header.Filename
	}
	req.Document, err = io.ReadAll(file)
	if err != nil {
		return req, errors.New("failed to read upload")
	}
	return req, nil
}

func (s *Server) handleRecognition(w http.ResponseWriter, r *http.Request) {
	if s.userID(r) == "" {
		writeFailure(w, "user id not found")
		return
	}
	req, err := s.readRequest(w, r)
	if err != nil {
		writeFailure(w, err.Error())
		return
	}
	// The workflow finishes its side effects even if the client goes away.
	ctx := context.WithoutCancel(r.Context())

	if r.URL.Query().Get("mode") == "async" && s.queue != nil {
		s.submitAsync(ctx, w, req)
		return
	}
	s.writeResult(w, s.recognize.Run(ctx, req))
}

func (s *Server) submitAsync(ctx context.Context, w http.ResponseWriter, req orchestrator.Request) {
	sub, err := s.recognize.Submit(ctx, req)
	if err != nil {
		writeFailure(w, err.Error())
		return
	}
	log := s.log.With("requestId", sub.RequestID, "userId", sub.UserID)
	if err := s.artifacts.StoreDocument(ctx, sub.RequestID, sub.Document); err != nil {
		telemetry.ArchiveWarning.Inc()
		log.Warn("Failed to stash extracted document.", "error", err)
	}
	if err := s.queue.Enqueue(ctx, sub.RequestID); err != nil {
		log.Error("Failed to enqueue job for polling.", "error", err)
		writeFailure(w, "job submitted but could not be scheduled for polling")
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{Status: "success", Data: map[string]string{"requestId": sub.RequestID}})
}

func (s *Server) handleRecognitionSync(w http.ResponseWriter, r *http.Request) {
	req, err := s.readRequest(w, r)
	if err != nil {
		writeFailure(w, err.Error())
		return
	}
	s.writeResult(w, s.recognize.RunSync(context.WithoutCancel(r.Context()), req))
}

func (s *Server) writeResult(w http.ResponseWriter, res orchestrator.Result) {
	for _, warn := range res.Warnings {
		s.log.Warn("Recognition finished with warning.", "requestId", res.RequestID, "warning", warn.String())
	}
	if !res.Success {
		writeFailure(w, res.Message)
		return
	}
	writeJSON(w, http.StatusOK, recognitionResponse{
		Status:    "success",
		RequestID: res.RequestID,
		Result:    res.Payload,
		PDF:       pdfDataURL(res.PDF),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := s.userID(r)
	if userID == "" {
		writeFailure(w, "user id not found")
		return
	}
	tasks, err := s.history.ListByUser(r.Context(), userID)
	if err != nil {
		s.log.Error("Failed to list tasks.", "userId", userID, "error", err)
		writeFailure(w, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: tasks})
}

type resultsRequest struct {
	RequestID string `json:"request_id"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	var req resultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, "invalid json")
		return
	}
	if strings.TrimSpace(req.RequestID) == "" {
		writeFailure(w, "request_id is required")
		return
	}
	pdf, result, err := s.artifacts.Fetch(r.Context(), req.RequestID)
	if errors.Is(err, archive.ErrNotFound) {
		writeFailure(w, "result not found")
		return
	}
	if err != nil {
		s.log.Error("Failed to fetch result.", "requestId", req.RequestID, "error", err)
		writeFailure(w, "failed to fetch result")
		return
	}
	writeJSON(w, http.StatusOK, recognitionResponse{Status: "success", RequestID: req.RequestID, Result: result, PDF: pdfDataURL(pdf)})
}

func pdfDataURL(pdf []byte) string {
	if len(pdf) == 0 {
		return ""
	}
	return "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf)
}

// writeFailure answers 200 with the failure envelope clients expect.
func writeFailure(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, envelope{Status: "failed", ErrorMsg: msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
