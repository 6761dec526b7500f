/*
handlers.go - HTTP API handlers for the progress ledger

PURPOSE:
  Exposes the reward orchestrator via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the ledger.
  The caller is always the user resolved by the auth middleware; no
  endpoint accepts a user id for someone else.

ENDPOINTS:
  Screens:
    POST   /api/screens/{screenKey}/enter     Record a visit, pay entry XP once
    POST   /api/screens/{screenKey}/complete  Mark success, pay success XP once
    GET    /api/screens/{screenKey}           Progress record
    GET    /api/screens/{screenKey}/award     Award table entry for the screen

  Achievements:
    POST   /api/achievements/{id}             Grant (idempotent)
    GET    /api/achievements/{id}             Unlock record

  Me:
    GET    /api/me/stats                      XP and weekly goal
    GET    /api/me/events                     Event log

  Scenarios (LEDGER_DEMO_SCENARIOS=true):
    GET    /api/scenarios                     List demo scenarios
    POST   /api/scenarios/{id}/run            Run one

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid amount or key
  - 401: No resolvable user
  - 404: Record not found
  - 503: Store unavailable (safe to retry)
  - 500: Internal errors

  An already-granted reward is not an error: the response is 200 with
  first_time=false and xp_credited=0.

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: User resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/warp/progress-ledger/factory"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/logging"
	"github.com/warp/progress-ledger/rewards"
	"github.com/warp/progress-ledger/xp"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Rewards       *rewards.Orchestrator
	Awards        *factory.AwardTable
	Logger        *logging.Logger
	WeeklyGoal    int64
	DemoScenarios bool
}

// NewHandler creates a handler. A nil award table means the embedded default.
func NewHandler(o *rewards.Orchestrator, awards *factory.AwardTable, logger *logging.Logger) *Handler {
	if awards == nil {
		awards = factory.DefaultAwardTable()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		Rewards:    o,
		Awards:     awards,
		Logger:     logger,
		WeeklyGoal: xp.DefaultWeeklyGoal,
	}
}

// =============================================================================
// SCREEN HANDLERS
// =============================================================================

// EnterScreen records a visit.
// POST /api/screens/{screenKey}/enter
func (h *Handler) EnterScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	screenKey, ok := screenKeyParam(w, r)
	if !ok {
		return
	}

	var req EnterRequest
	empty, err := decodeOptional(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cfg := req.Config()
	var award *factory.Award
	if empty || req.UseTable {
		a, found := h.Awards.Resolve(screenKey)
		if !found && req.UseTable {
			writeError(w, http.StatusNotFound, "No award configured", nil)
			return
		}
		if found {
			award = &a
			cfg = a.EnterConfig()
		}
	}

	res, err := h.Rewards.EnterScreen(ctx, UserFromContext(ctx), screenKey, cfg)
	if err != nil {
		h.writeLedgerError(w, "Failed to enter screen", err)
		return
	}
	h.logWarnings(r, "enter", screenKey, res)
	writeJSON(w, http.StatusOK, toResultDTO(res, award))
}

// CompleteScreen marks a screen as succeeded.
// POST /api/screens/{screenKey}/complete
func (h *Handler) CompleteScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	screenKey, ok := screenKeyParam(w, r)
	if !ok {
		return
	}

	var req CompleteRequest
	empty, err := decodeOptional(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cfg := req.Config()
	var award *factory.Award
	if empty || req.UseTable {
		a, found := h.Awards.Resolve(screenKey)
		if !found && req.UseTable {
			writeError(w, http.StatusNotFound, "No award configured", nil)
			return
		}
		if found {
			award = &a
			cfg = a.CompleteConfig()
		}
	}

	res, err := h.Rewards.CompleteScreen(ctx, UserFromContext(ctx), screenKey, cfg)
	if err != nil {
		h.writeLedgerError(w, "Failed to complete screen", err)
		return
	}
	h.logWarnings(r, "complete", screenKey, res)
	writeJSON(w, http.StatusOK, toResultDTO(res, award))
}

// GetScreen returns the caller's progress on a screen.
// GET /api/screens/{screenKey}
func (h *Handler) GetScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	screenKey, ok := screenKeyParam(w, r)
	if !ok {
		return
	}

	rec, err := h.Rewards.Progress.Get(ctx, UserFromContext(ctx), screenKey)
	if err != nil {
		h.writeLedgerError(w, "Screen not seen", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressDTO(rec))
}

// GetScreenAward returns the award table entry for a screen.
// GET /api/screens/{screenKey}/award
func (h *Handler) GetScreenAward(w http.ResponseWriter, r *http.Request) {
	screenKey, ok := screenKeyParam(w, r)
	if !ok {
		return
	}
	award, found := h.Awards.Resolve(screenKey)
	if !found {
		writeError(w, http.StatusNotFound, "No award configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, award)
}

// =============================================================================
// ACHIEVEMENT HANDLERS
// =============================================================================

// GrantAchievement unlocks an achievement for the caller.
// POST /api/achievements/{id}
func (h *Handler) GrantAchievement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	var req GrantRequest
	if _, err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Rewards.GrantAchievement(ctx, UserFromContext(ctx), id,
		rewards.AchievementConfig{XP: req.XP, Sub: req.Sub, Meta: req.Meta})
	if err != nil {
		h.writeLedgerError(w, "Failed to grant achievement", err)
		return
	}
	h.logWarnings(r, "grant", id, res)
	writeJSON(w, http.StatusOK, toResultDTO(res, nil))
}

// GetAchievement returns an unlock.
// GET /api/achievements/{id}
func (h *Handler) GetAchievement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.Rewards.GetAchievement(ctx, UserFromContext(ctx), id)
	if err != nil {
		h.writeLedgerError(w, "Failed to get achievement", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Achievement not granted", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAchievementDTO(rec))
}

// =============================================================================
// ME HANDLERS
// =============================================================================

// GetStats returns the caller's XP summary.
// GET /api/me/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acct, err := h.Rewards.XP.Get(ctx, UserFromContext(ctx))
	if err != nil {
		h.writeLedgerError(w, "Failed to get stats", err)
		return
	}
	week := generic.WeekOf(h.Rewards.XP.Clock.Now())
	writeJSON(w, http.StatusOK, StatsDTO{
		Points:         acct.Points,
		PeriodProgress: acct.PeriodProgress,
		WeeklyGoal:     h.WeeklyGoal,
		GoalPercent:    acct.GoalPercent(h.WeeklyGoal).String(),
		Week:           week.WeekKey(),
		WeekStart:      week.Start,
		WeekEnd:        week.End,
		LastActiveAt:   acct.LastActiveAt,
	})
}

// ListEvents returns the caller's event log.
// GET /api/me/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.Rewards.Events.List(ctx, UserFromContext(ctx))
	if err != nil {
		h.writeLedgerError(w, "Failed to list events", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(entries))
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func screenKeyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	return pathParam(w, r, "screenKey")
}

// pathParam returns a decoded path parameter. chi matches on RawPath when
// the URL has one (e.g. an escaped "/"), and then the parameter is still
// escaped; otherwise it is already decoded.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath != "" {
		var err error
		if v, err = url.PathUnescape(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+name, err)
			return "", false
		}
	}
	if v == "" {
		writeError(w, http.StatusBadRequest, "Invalid "+name, nil)
		return "", false
	}
	return v, true
}

// decodeOptional decodes a JSON body. empty is true when there was no body.
func decodeOptional(r *http.Request, v any) (empty bool, err error) {
	if r.Body == nil {
		return true, nil
	}
	err = json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, generic.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthenticated", err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsRetryable(err):
		h.Logger.Warn("store unavailable", "message", message, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Store unavailable, retry later", err)
	default:
		h.Logger.Error("ledger call failed", "message", message, "error", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func (h *Handler) logWarnings(r *http.Request, op, key string, res rewards.Result) {
	for _, warning := range res.Warnings {
		h.Logger.Warn("reward committed with warning",
			"op", op, "key", key, "user_id", UserFromContext(r.Context()), "warning", warning)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
