package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const prefetchTimeout = 2 * time.Minute

// Handler exposes the overlay service over HTTP using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Routes mounts the overlay endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/videos/resolve", h.Resolve)
	r.Post("/videos/prefetch", h.Prefetch)
	r.Route("/cache", func(r chi.Router) {
		r.Get("/", h.ListRecords)
		r.Delete("/", h.ClearCache)
		r.Post("/remember", h.Remember)
		r.Get("/record", h.GetRecord)
		r.Delete("/record", h.DeleteRecord)
	})
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.StartSession)
		r.Route("/{session_id}", func(r chi.Router) {
			r.Delete("/", h.EndSession)
			r.Post("/clock", h.Tick)
			r.Get("/current", h.Current)
			r.Post("/appeared", h.Appeared)
			r.Get("/cues.vtt", h.CueTrack)
		})
	})
}

type referenceRequest struct {
	Reference string `json:"reference"`
}

type resolveResponse struct {
	Identity Identity `json:"identity"`
	Outcome  Outcome  `json:"outcome"`
	Record   *Record  `json:"record,omitempty"`
	Cues     []Cue    `json:"cues"`
}

type sessionResponse struct {
	SessionID string   `json:"session_id"`
	Identity  Identity `json:"identity"`
	Outcome   Outcome  `json:"outcome"`
	Cues      []Cue    `json:"cues"`
}

type clockRequest struct {
	Time *float64 `json:"time"`
}

type clockResponse struct {
	Playing bool `json:"playing"`
}

type appearedRequest struct {
	Index *int `json:"index"`
}

type currentResponse struct {
	Index  int    `json:"index"`
	Cue    Cue    `json:"cue"`
	Cursor Cursor `json:"cursor"`
}

type rememberResponse struct {
	Identity Identity `json:"identity"`
	Inserted bool     `json:"inserted"`
}

// Resolve handles POST /videos/resolve.
// Body: { "reference": "/videos/lesson/intro.mp4" }.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.decodeReference(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Resolve(r.Context(), ref)
	if err != nil {
		h.writeResolveError(w, ref, err)
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		Identity: res.Identity,
		Outcome:  res.Outcome,
		Record:   res.Record,
		Cues:     nonNilCues(res.Cues),
	})
}

// Prefetch handles POST /videos/prefetch. It answers 202 at once and warms
// the cache in the background; the outcome is only logged.
func (h *Handler) Prefetch(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.decodeReference(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), prefetchTimeout)
	h.svc.ResolveInBackground(ctx, ref, func(res Resolution, err error) {
		defer cancel()
		if err != nil {
			h.log.Warn("background resolve failed", slog.String("reference", ref), slog.String("error", err.Error()))
			return
		}
		h.log.Info("background resolve finished",
			slog.String("reference", ref),
			slog.String("outcome", string(res.Outcome)),
			slog.Int("cues", len(res.Cues)))
	})
	w.WriteHeader(http.StatusAccepted)
}

// ListRecords handles GET /cache.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Records())
}

// ClearCache handles DELETE /cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearCache(r.Context())
	h.log.Info("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

// Remember handles POST /cache/remember.
func (h *Handler) Remember(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.decodeReference(w, r)
	if !ok {
		return
	}

	id, inserted, err := h.svc.Remember(r.Context(), ref)
	if err != nil {
		h.log.Error("remember failed", slog.String("reference", ref), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if id == "" {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, rememberResponse{Identity: id, Inserted: inserted})
}

// GetRecord handles GET /cache/record?identity=...
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := Identity(r.URL.Query().Get("identity"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rec, ok := h.svc.Record(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /cache/record?identity=...
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := Identity(r.URL.Query().Get("identity"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.svc.DeleteRecord(r.Context(), id) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.log.Info("cache record deleted", slog.String("identity", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

// StartSession handles POST /sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.decodeReference(w, r)
	if !ok {
		return
	}

	sess, err := h.svc.StartSession(r.Context(), ref)
	if err != nil {
		h.writeResolveError(w, ref, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: sess.ID,
		Identity:  sess.Identity,
		Outcome:   sess.Outcome,
		Cues:      nonNilCues(sess.Scheduler.Cues()),
	})
}

// Tick handles POST /sessions/{session_id}/clock.
// Body: { "time": 12.3 }.
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")

	var req clockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Time == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	playing, err := h.svc.Tick(id, *req.Time)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, clockResponse{Playing: playing})
}

// Current handles GET /sessions/{session_id}/current. It answers 204 when
// nothing should render.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")

	cue, index, ok, cursor, err := h.svc.Current(id)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, currentResponse{Index: index, Cue: cue, Cursor: cursor})
}

// Appeared handles POST /sessions/{session_id}/appeared.
// Body: { "index": 0 }.
func (h *Handler) Appeared(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")

	var req appearedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.Appeared(id, *req.Index); err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CueTrack handles GET /sessions/{session_id}/cues.vtt.
func (h *Handler) CueTrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")

	track, err := h.svc.CueTrack(id)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	w.Header().Set("Content-Type", cueTrackContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(track))
}

// EndSession handles DELETE /sessions/{session_id}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")

	if err := h.svc.EndSession(id); err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeReference(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req referenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid request body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return "", false
	}
	if req.Reference == "" {
		w.WriteHeader(http.StatusBadRequest)
		return "", false
	}
	return req.Reference, true
}

func (h *Handler) writeResolveError(w http.ResponseWriter, ref string, err error) {
	if errors.Is(err, ErrSourceNotAllowed) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
		return
	}
	if errors.Is(err, ErrUploadFailed) {
		h.log.Info("resolution rejected, upload failed",
			slog.String("reference", ref),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	h.log.Error("resolution failed", slog.String("reference", ref), slog.String("error", err.Error()))
	w.WriteHeader(http.StatusInternalServerError)
}

func (h *Handler) writeSessionError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.log.Error("session request failed", slog.String("session_id", id), slog.String("error", err.Error()))
	w.WriteHeader(http.StatusInternalServerError)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNilCues(cues []Cue) []Cue {
	if cues == nil {
		return []Cue{}
	}
	return cues
}
