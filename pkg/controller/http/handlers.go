package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/secmon-lab/mnemosyne/pkg/utils/errutil"
)

type sweepRequest struct {
	DryRun     bool   `json:"dry_run"`
	Token      string `json:"token"`
	BatchLimit int    `json:"batch_limit"`
}

type sweepChangeResponse struct {
	RecordID string `json:"record_id"`
	AgentID  string `json:"agent_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason"`
}

type sweepErrorResponse struct {
	RecordID string `json:"record_id"`
	Message  string `json:"message"`
}

type sweepResponse struct {
	DryRun     bool                  `json:"dry_run"`
	Examined   int                   `json:"examined"`
	Changes    []sweepChangeResponse `json:"changes"`
	Errors     []sweepErrorResponse  `json:"errors,omitempty"`
	Token      string                `json:"token,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

type recordResponse struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id"`
	Content        string         `json:"content,omitempty"`
	ContentHash    string         `json:"content_hash,omitempty"`
	Category       string         `json:"category,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	State          string         `json:"state"`
	Sharing        string         `json:"sharing"`
	SpaceIDs       []string       `json:"space_ids,omitempty"`
	MergedInto     string         `json:"merged_into,omitempty"`
	ArchiveURI     string         `json:"archive_uri,omitempty"`
	Version        int64          `json:"version"`
	TTL            *time.Time     `json:"ttl,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StateChangedAt time.Time      `json:"state_changed_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
}

type eventResponse struct {
	Offset    int64           `json:"offset"`
	Sequence  int64           `json:"sequence,omitempty"`
	RecordID  string          `json:"record_id,omitempty"`
	Kind      string          `json:"kind"`
	Actor     string          `json:"actor,omitempty"`
	Snapshot  *recordResponse `json:"snapshot,omitempty"`
	Changed   []string        `json:"changed,omitempty"`
	Horizon   int64           `json:"horizon,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type historyResponse struct {
	Record *recordResponse `json:"record"`
	Events []eventResponse `json:"events"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
}

func toRecordResponse(record *model.Record) *recordResponse {
	if record == nil {
		return nil
	}
	resp := &recordResponse{
		ID:             record.ID.String(),
		AgentID:        record.AgentID.String(),
		Content:        record.Content,
		ContentHash:    record.ContentHash,
		Category:       record.Category,
		Metadata:       model.MetadataToNative(record.Metadata),
		State:          record.State.String(),
		Sharing:        record.Sharing.String(),
		MergedInto:     record.MergedInto.String(),
		ArchiveURI:     record.ArchiveURI,
		Version:        record.Version,
		TTL:            record.TTL,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
		StateChangedAt: record.StateChangedAt,
		LastAccessedAt: record.LastAccessedAt,
	}
	for _, spaceID := range record.SpaceIDs {
		resp.SpaceIDs = append(resp.SpaceIDs, spaceID.String())
	}
	return resp
}

func toEventResponse(event *model.Event) eventResponse {
	return eventResponse{
		Offset:    event.Offset,
		Sequence:  event.Sequence,
		RecordID:  event.RecordID.String(),
		Kind:      event.Kind.String(),
		Actor:     event.Actor.String(),
		Snapshot:  toRecordResponse(event.Snapshot),
		Changed:   event.Changed,
		Horizon:   event.Horizon,
		CreatedAt: event.CreatedAt,
	}
}

// sweepHandler runs one lifecycle sweep pass as the calling agent. Dry runs
// return the plan and, when destructive changes are due, the confirmation
// token an apply pass must present.
func sweepHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sweepRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to decode sweep request"), http.StatusBadRequest)
				return
			}
		}

		report, err := uc.Lifecycle.Sweep(r.Context(), agentFrom(r.Context()), usecase.SweepOptions{
			DryRun:     req.DryRun,
			Token:      req.Token,
			BatchLimit: req.BatchLimit,
		})
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, statusOf(err))
			return
		}

		resp := sweepResponse{
			DryRun:     report.DryRun,
			Examined:   report.Examined,
			Changes:    make([]sweepChangeResponse, 0, len(report.Changes)),
			Token:      report.Token,
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
		}
		for _, change := range report.Changes {
			resp.Changes = append(resp.Changes, sweepChangeResponse{
				RecordID: change.RecordID.String(),
				AgentID:  change.AgentID.String(),
				From:     change.From.String(),
				To:       change.To.String(),
				Reason:   change.Reason,
			})
		}
		for _, sweepErr := range report.Errors {
			resp.Errors = append(resp.Errors, sweepErrorResponse{
				RecordID: sweepErr.RecordID.String(),
				Message:  sweepErr.Message,
			})
		}

		writeJSON(r.Context(), w, http.StatusOK, resp)
	}
}

// historyHandler returns one record with its retained change events
func historyHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID := types.RecordID(chi.URLParam(r, "id"))

		history, err := uc.Sync.GetRecordHistory(r.Context(), agentFrom(r.Context()), recordID)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, statusOf(err))
			return
		}

		resp := historyResponse{
			Record: toRecordResponse(history.Record),
			Events: make([]eventResponse, 0, len(history.Events)),
		}
		for _, event := range history.Events {
			resp.Events = append(resp.Events, toEventResponse(event))
		}

		writeJSON(r.Context(), w, http.StatusOK, resp)
	}
}

// eventsHandler returns a bounded tail of the event log visible to the
// calling agent, for debugging subscriptions
func eventsHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err := queryInt64(r, "offset", 0)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
			return
		}
		limit, err := queryInt64(r, "limit", 0)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
			return
		}

		events, err := uc.Sync.ListEvents(r.Context(), agentFrom(r.Context()), offset, int(limit))
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, statusOf(err))
			return
		}

		resp := eventsResponse{Events: make([]eventResponse, 0, len(events))}
		for _, event := range events {
			resp.Events = append(resp.Events, toEventResponse(event))
		}

		writeJSON(r.Context(), w, http.StatusOK, resp)
	}
}

func queryInt64(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, goerr.Wrap(err, "query parameter must be an integer", goerr.V("name", name))
	}
	return v, nil
}

// statusOf maps the core's error taxonomy onto HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case goerr.HasTag(err, types.ErrTagValidation):
		return http.StatusBadRequest
	case goerr.HasTag(err, types.ErrTagPermission):
		return http.StatusForbidden
	case goerr.HasTag(err, types.ErrTagConflict):
		return http.StatusConflict
	case goerr.HasTag(err, types.ErrTagLockTimeout),
		goerr.HasTag(err, types.ErrTagStoreUnavailable),
		goerr.HasTag(err, types.ErrTagOracleUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with proper error handling
func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		errutil.Handle(ctx, err, "failed to encode JSON response")
	}
}
