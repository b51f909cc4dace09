// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/policy"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/rules"
)

func (s *Server) repoFor(r *http.Request) (*rules.Repository, error) {
	family := mux.Vars(r)["family"]
	repo, ok := s.repos[family]
	if !ok {
		return nil, errors.Errorf(errors.KindValidation, "unknown rule family: %q", family)
	}
	return repo, nil
}

type moveRequest struct {
	Rules  []int64 `json:"rules"`
	To     int64   `json:"to"`
	Offset string  `json:"offset"`
}

type createRequest struct {
	Firewall int64          `json:"firewall"`
	Group    int64          `json:"group"`
	Data     map[string]any `json:"data"`

	// Optional repositioning after the append. Zero To leaves the rule at
	// the end of its scope.
	To     int64  `json:"to"`
	Offset string `json:"offset"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Firewall <= 0 {
		writeError(w, errors.Errorf(errors.KindValidation, "invalid firewall: %d", req.Firewall))
		return
	}

	scope := rules.Scope{FirewallID: req.Firewall}
	if req.Group > 0 {
		scope.GroupID = sql.NullInt64{Int64: req.Group, Valid: true}
	}

	created, err := repo.Create(r.Context(), scope, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.To != 0 {
		offset, err := policy.ParseOffset(req.Offset)
		if err != nil {
			writeError(w, err)
			return
		}
		moved, err := repo.Move(r.Context(), []int64{created.ID}, req.To, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		created = moved[0]
	}

	s.ruleChanged(r.Context(), repo.Family().Name, "create", []models.RuleRow{created})
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var values map[string]any
	if err := decodeBody(r, &values); err != nil {
		writeError(w, err)
		return
	}

	updated, err := repo.Update(r.Context(), id, values)
	if err != nil {
		writeError(w, err)
		return
	}

	s.ruleChanged(r.Context(), repo.Family().Name, "update", []models.RuleRow{updated})
	writeJSON(w, http.StatusOK, updated)
}

type bulkUpdateRequest struct {
	Rules []int64        `json:"rules"`
	Data  map[string]any `json:"data"`
}

func (s *Server) handleBulkUpdateRules(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req bulkUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	updated, err := repo.BulkUpdate(r.Context(), req.Rules, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}

	s.ruleChanged(r.Context(), repo.Family().Name, "update", updated)
	writeJSON(w, http.StatusOK, updated)
}

type bulkRemoveRequest struct {
	Rules []int64 `json:"rules"`
}

func (s *Server) handleBulkRemoveRules(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req bulkRemoveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	removed, err := repo.BulkRemove(r.Context(), req.Rules)
	if err != nil {
		writeError(w, err)
		return
	}

	s.ruleChanged(r.Context(), repo.Family().Name, "remove", removed)
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) handleMoveRules(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	offset, err := policy.ParseOffset(req.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	moved, err := repo.Move(r.Context(), req.Rules, req.To, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	s.ruleChanged(r.Context(), repo.Family().Name, "move", moved)
	writeJSON(w, http.StatusOK, moved)
}

func (s *Server) handleCopyRules(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	offset, err := policy.ParseOffset(req.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	copied, err := repo.Copy(r.Context(), req.Rules, req.To, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	s.ruleChanged(r.Context(), repo.Family().Name, "copy", copied)
	writeJSON(w, http.StatusCreated, copied)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	removed, err := repo.Remove(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	s.ruleChanged(r.Context(), repo.Family().Name, "remove", []models.RuleRow{removed})
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) handleLastRule(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	scope, err := scopeFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	last, err := repo.GetLastRuleInScope(r.Context(), scope)
	if err != nil {
		writeError(w, err)
		return
	}
	if last == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func scopeFromQuery(r *http.Request) (rules.Scope, error) {
	fwRaw := r.URL.Query().Get("firewall")
	firewallID, err := strconv.ParseInt(fwRaw, 10, 64)
	if err != nil || firewallID <= 0 {
		return rules.Scope{}, errors.Errorf(errors.KindValidation, "invalid firewall: %q", fwRaw)
	}

	scope := rules.Scope{FirewallID: firewallID}
	if groupRaw := r.URL.Query().Get("group"); groupRaw != "" {
		groupID, err := strconv.ParseInt(groupRaw, 10, 64)
		if err != nil || groupID <= 0 {
			return rules.Scope{}, errors.Errorf(errors.KindValidation, "invalid group: %q", groupRaw)
		}
		scope.GroupID = sql.NullInt64{Int64: groupID, Valid: true}
	}
	return scope, nil
}

// ruleChanged flags the affected firewalls for recompilation and notifies
// event subscribers.
func (s *Server) ruleChanged(ctx context.Context, family, operation string, rows []models.RuleRow) {
	s.collector.RuleOperations.WithLabelValues(family, operation).Inc()

	seen := make(map[int64]bool, len(rows))
	for _, row := range rows {
		if seen[row.FirewallID] {
			continue
		}
		seen[row.FirewallID] = true

		if _, err := s.store.DB().ExecContext(ctx,
			`UPDATE firewall SET status = status | ? WHERE id = ?`,
			models.FwStatusNeedsCompile, row.FirewallID); err != nil {
			s.logger.Error("flag firewall for recompile", "firewall", row.FirewallID, "error", err)
		}

		s.hub.Publish(events.Event{
			Type:   events.EventRuleChanged,
			Source: family,
			Data: map[string]any{
				"operation": operation,
				"firewall":  row.FirewallID,
			},
		})
	}
}
