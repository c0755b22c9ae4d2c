// Package api serves the progression service over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/skoolup/internal/curriculum"
	"github.com/p-n-ai/skoolup/internal/learner"
	"github.com/p-n-ai/skoolup/internal/platform/metrics"
	"github.com/p-n-ai/skoolup/internal/progress"
	"github.com/p-n-ai/skoolup/internal/report"
	"github.com/p-n-ai/skoolup/internal/session"
)

const (
	maxBodyBytes = 64 << 10
	wsWriteWait  = 5 * time.Second
)

// Config wires a Handler. Broker and Metrics are optional.
type Config struct {
	Service  *session.Service
	Subjects report.SubjectLookup
	Broker   *session.Broker
	Metrics  *metrics.Metrics
}

// Handler holds the HTTP routes.
type Handler struct {
	svc      *session.Service
	subjects report.SubjectLookup
	broker   *session.Broker
	metrics  *metrics.Metrics
}

func New(cfg Config) *Handler {
	return &Handler{
		svc:      cfg.Service,
		subjects: cfg.Subjects,
		broker:   cfg.Broker,
		metrics:  cfg.Metrics,
	}
}

// Mux creates the HTTP router.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	const subject = "/v1/learners/{learner}/grades/{grade}/subjects/{subject}"
	mux.HandleFunc("GET /v1/learners/{learner}", h.handleProfile)
	mux.HandleFunc("GET /v1/learners/{learner}/grades/{grade}/subjects", h.handleSubjects)
	mux.HandleFunc("GET "+subject, h.handleSubject)
	mux.HandleFunc("GET "+subject+"/chapters/{chapter}", h.handleChapter)
	mux.HandleFunc("GET "+subject+"/chapters/{chapter}/active-step", h.handleActiveStep)
	mux.HandleFunc("POST "+subject+"/chapters/{chapter}/steps/{step}/attempts", h.handleAttempt)
	mux.HandleFunc("POST "+subject+"/chapters/{chapter}/complete", h.handleCompleteChapter)
	mux.HandleFunc("POST /v1/learners/{learner}/quests/{quest}/claim", h.handleClaimQuest)
	mux.HandleFunc("POST /v1/learners/{learner}/premium", h.handleUpgrade)
	mux.HandleFunc("GET /v1/learners/{learner}/report.xlsx", h.handleReport)
	if h.broker != nil {
		mux.HandleFunc("GET /v1/learners/{learner}/events", h.handleEvents)
	}
	return mux
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.svc.HealthCheck(ctx); err != nil {
		slog.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type profileResponse struct {
	learner.Profile
	Level int `json:"level"`
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Profile(r.Context(), r.PathValue("learner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p, Level: p.Level()})
}

func (h *Handler) handleSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.svc.Subjects(r.Context(), r.PathValue("learner"), grade(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subjects": subjects})
}

func (h *Handler) handleSubject(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Modules(r.Context(), r.PathValue("learner"), grade(r), r.PathValue("subject"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleChapter(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Chapter(r.Context(), r.PathValue("learner"), grade(r), r.PathValue("subject"), r.PathValue("chapter"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleActiveStep(w http.ResponseWriter, r *http.Request) {
	step, err := h.svc.ActiveStep(r.Context(), r.PathValue("learner"), grade(r), r.PathValue("subject"), r.PathValue("chapter"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_step": step})
}

func (h *Handler) handleAttempt(w http.ResponseWriter, r *http.Request) {
	var a curriculum.Attempt
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid attempt body: " + err.Error()})
		return
	}

	res, err := h.svc.Attempt(r.Context(), r.PathValue("learner"), grade(r), r.PathValue("subject"), r.PathValue("chapter"), r.PathValue("step"), a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCompleteChapter(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CompleteChapter(r.Context(), r.PathValue("learner"), grade(r), r.PathValue("subject"), r.PathValue("chapter"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleClaimQuest(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ClaimQuest(r.Context(), r.PathValue("learner"), r.PathValue("quest"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Upgrade(r.Context(), r.PathValue("learner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p, Level: p.Level()})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	learnerID := r.PathValue("learner")
	snap, err := h.svc.Snapshot(r.Context(), learnerID)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, snap, h.subjects); err != nil {
		slog.Error("building report failed", "learner_id", learnerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "report unavailable"})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": "skoolup-" + learnerID + ".xlsx"})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleEvents streams the learner's progress events as JSON messages until
// the client goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	learnerID := r.PathValue("learner")

	// Server-wide read/write timeouts must not cut the stream.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "learner_id", learnerID, "error", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := h.broker.Subscribe(learnerID)
	defer cancel()
	ctx := conn.CloseRead(r.Context())

	slog.Debug("event stream opened", "learner_id", learnerID)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "")
				return
			}
			wctx, done := context.WithTimeout(ctx, wsWriteWait)
			err := wsjson.Write(wctx, conn, e)
			done()
			if err != nil {
				slog.Debug("event stream closed", "learner_id", learnerID, "error", err)
				return
			}
		}
	}
}

func grade(r *http.Request) curriculum.GradeLevel {
	return curriculum.GradeLevel(r.PathValue("grade"))
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, progress.ErrNotFound),
		errors.Is(err, session.ErrLearnerNotFound),
		errors.Is(err, learner.ErrQuestNotFound):
		return http.StatusNotFound
	case errors.Is(err, progress.ErrLocked),
		errors.Is(err, progress.ErrChapterIncomplete),
		errors.Is(err, session.ErrStaleSnapshot),
		errors.Is(err, learner.ErrQuestClaimed):
		return http.StatusConflict
	case errors.Is(err, curriculum.ErrWrongAnswer),
		errors.Is(err, curriculum.ErrInvalidAttempt),
		errors.Is(err, learner.ErrQuestNotComplete):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}
