package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-cover/internal/bridges/modbus"
	"github.com/nerrad567/gray-logic-cover/internal/cover"
)

// maxQueryParamLen limits path and query parameter length.
const maxQueryParamLen = 100

// commandTimeout bounds one HTTP-issued register write plus its follow-up poll.
const commandTimeout = 5 * time.Second

// CoverCommand is the body of POST /covers/{id}/command.
type CoverCommand struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CommandResult is returned after a command has been written.
type CommandResult struct {
	CommandID string             `json:"command_id"`
	Status    string             `json:"status"`
	Cover     modbus.CoverStatus `json:"cover"`
}

// handleListCovers returns every configured cover.
func (s *Server) handleListCovers(w http.ResponseWriter, _ *http.Request) {
	covers := s.covers.Covers()
	writeJSON(w, http.StatusOK, map[string]any{
		"covers": covers,
		"count":  len(covers),
	})
}

// handleGetCover returns one cover.
func (s *Server) handleGetCover(w http.ResponseWriter, r *http.Request) {
	id, ok := coverIDParam(w, r)
	if !ok {
		return
	}

	status, err := s.covers.Cover(id)
	if err != nil {
		writeNotFound(w, "cover not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCoverCommand writes a command to a cover and waits for the result.
func (s *Server) handleCoverCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := coverIDParam(w, r)
	if !ok {
		return
	}

	var body CoverCommand
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	cmd, err := modbus.ParseCommand(body.Command, body.Parameters)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	commandID := uuid.NewString()
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := s.covers.Execute(ctx, id, cmd); err != nil {
		s.logger.Warn("cover command failed",
			"cover", id,
			"command", body.Command,
			"command_id", commandID,
			"error", err,
		)
		writeCommandError(w, err)
		return
	}

	s.logger.Info("cover command accepted", "cover", id, "command", body.Command, "command_id", commandID)

	status, err := s.covers.Cover(id)
	if err != nil {
		writeInternalError(w, "failed to read cover")
		return
	}
	writeJSON(w, http.StatusOK, CommandResult{
		CommandID: commandID,
		Status:    "accepted",
		Cover:     status,
	})
}

// writeCommandError maps bridge and controller errors to HTTP responses.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, modbus.ErrCoverNotFound):
		writeNotFound(w, "cover not found")
	case errors.Is(err, modbus.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "cover hub not acquired yet")
	case errors.Is(err, cover.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeDeviceUnreachable, "cover did not accept the command")
	}
}

// handleCoverHistory returns recorded state changes for a cover.
//
// Query parameters:
//   - limit: maximum entries (default 50, max 200)
//   - since: RFC3339 timestamp; only newer entries are returned, and the
//     limit counts entries after since
func (s *Server) handleCoverHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := coverIDParam(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if _, err := s.covers.Cover(id); err != nil {
		writeNotFound(w, "cover not found")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit, since)
	if err != nil {
		writeInternalError(w, "failed to load cover history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cover_id": id,
		"history":  entries,
		"count":    len(entries),
	})
}

func coverIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid cover ID")
		return "", false
	}
	return id, true
}

// parseHistoryLimit returns 0 for an empty value so the store applies its default.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return limit, nil
}

func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
