// Package httptransport is the thin HTTP layer over the action service. It
// translates requests and domain errors; no business logic lives here.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"actions/internal/action"
	"actions/pkg/domain"
	"actions/pkg/platform/clock"
	"actions/pkg/platform/sentinel"
)

const defaultStateQueryLimit = 100

// Handler serves the action API.
type Handler struct {
	svc    Service
	outbox OutboxRequeuer
	clk    clock.Clock
	logger *slog.Logger
}

// Service is the surface of the action service the API needs.
type Service interface {
	IncompleteForTrainee(ctx context.Context, traineeID domain.TraineeID) ([]action.Action, error)
	ByState(ctx context.Context, state string, limit int) ([]action.Action, error)
	CompleteAsUser(ctx context.Context, traineeID domain.TraineeID, actionID domain.ActionID) (*action.Action, error)
}

// OutboxRequeuer returns a parked outbox entry to the publish queue.
type OutboxRequeuer interface {
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error
}

func NewHandler(svc Service, outbox OutboxRequeuer, clk clock.Clock, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, outbox: outbox, clk: clk, logger: logger}
}

// actionResponse is the wire shape of an action.
type actionResponse struct {
	ID          string     `json:"id"`
	TraineeID   string     `json:"traineeId"`
	Type        string     `json:"type"`
	State       string     `json:"state"`
	TriggerKey  string     `json:"triggerKey"`
	DueBy       *time.Time `json:"dueBy,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func toResponse(act *action.Action) actionResponse {
	return actionResponse{
		ID:          act.ID.String(),
		TraineeID:   act.TraineeID.String(),
		Type:        string(act.Type),
		State:       string(act.State),
		TriggerKey:  act.TriggerKey,
		DueBy:       act.DueBy,
		CompletedAt: act.CompletedAt,
	}
}

func toResponses(found []action.Action) []actionResponse {
	out := make([]actionResponse, 0, len(found))
	for i := range found {
		out = append(out, toResponse(&found[i]))
	}
	return out
}

// handleListActions returns the authenticated trainee's open actions.
func (h *Handler) handleListActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traineeID := TraineeID(ctx)

	found, err := h.svc.IncompleteForTrainee(ctx, traineeID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list actions", "trainee_id", traineeID, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponses(found))
}

// handleCompleteAction completes one of the trainee's own actions.
func (h *Handler) handleCompleteAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traineeID := TraineeID(ctx)

	actionID, err := domain.ParseActionID(chi.URLParam(r, "actionID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid action id")
		return
	}

	updated, err := h.svc.CompleteAsUser(ctx, traineeID, actionID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) && !errors.Is(err, sentinel.ErrInvalidTransition) {
			h.logger.ErrorContext(ctx, "failed to complete action",
				"trainee_id", traineeID,
				"action_id", actionID,
				"error", err,
			)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(updated))
}

// handleListByState is the operational query over lifecycle states.
func (h *Handler) handleListByState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultStateQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	found, err := h.svc.ByState(ctx, chi.URLParam(r, "state"), limit)
	if err != nil {
		if !errors.Is(err, sentinel.ErrMalformedPayload) {
			h.logger.ErrorContext(ctx, "failed to list actions by state", "error", err)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponses(found))
}

// handleRequeueOutbox returns a parked outbox entry to the publish queue.
// Operator recovery for entries that exhausted their publish attempts.
func (h *Handler) handleRequeueOutbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid outbox entry id")
		return
	}

	if err := h.outbox.Requeue(ctx, entryID, h.clk.Now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "parked outbox entry not found")
			return
		}
		h.logger.ErrorContext(ctx, "failed to requeue outbox entry", "entry_id", entryID, "error", err)
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", "action not found")
	case errors.Is(err, sentinel.ErrMalformedPayload):
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, sentinel.ErrInvalidTransition):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
