// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/tree"
)

// handleRepair starts an asynchronous tree repair. Notices are streamed over
// the websocket under the returned job id.
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	fwcloudID, err := pathID(r, "fwcloud")
	if err != nil {
		writeError(w, err)
		return
	}

	jobID := uuid.NewString()
	go s.runRepairJob(jobID, fwcloudID)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) runRepairJob(jobID string, fwcloudID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	repair := tree.NewRepair(s.store, s.treeSvc, s.logger, fwcloudID)
	sink := events.NewRepairChannel(s.hub, jobID)
	err := repair.Run(ctx, sink)

	s.collector.RepairsTotal.Inc()

	done := events.Event{Type: events.EventRepairDone, JobID: jobID, Source: "repair"}
	if err != nil {
		s.collector.RepairErrorsTotal.Inc()
		s.logger.Error("tree repair failed", "fwcloud", fwcloudID, "job", jobID, "error", err)
		done.Data = map[string]any{"error": err.Error()}
	} else {
		s.logger.Info("tree repair finished", "fwcloud", fwcloudID, "job", jobID)
		done.Data = map[string]any{"status": "ok"}
	}
	s.hub.Publish(done)
}

// exportNode is the YAML shape of one tree node.
type exportNode struct {
	Name     string        `yaml:"name"`
	NodeType string        `yaml:"type"`
	ObjID    int64         `yaml:"obj_id,omitempty"`
	ObjType  int           `yaml:"obj_type,omitempty"`
	Children []*exportNode `yaml:"children,omitempty"`
}

// handleTreeExport renders the full node tree of a cloud as YAML.
func (s *Server) handleTreeExport(w http.ResponseWriter, r *http.Request) {
	fwcloudID, err := pathID(r, "fwcloud")
	if err != nil {
		writeError(w, err)
		return
	}

	roots, err := s.loadTree(r.Context(), fwcloudID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]*exportNode{"tree": roots}); err != nil {
		s.logger.Error("tree export encode", "fwcloud", fwcloudID, "error", err)
	}
	enc.Close()
}

func (s *Server) loadTree(ctx context.Context, fwcloudID int64) ([]*exportNode, error) {
	rows, err := s.store.DB().QueryContext(ctx,
		`SELECT id, id_parent, name, node_type, id_obj, obj_type FROM fwc_tree
		 WHERE fwcloud = ? ORDER BY node_order ASC, id ASC`, fwcloudID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type rawNode struct {
		id     int64
		parent sql.NullInt64
		node   *exportNode
	}
	var raw []rawNode
	byID := make(map[int64]*exportNode)

	for rows.Next() {
		var id int64
		var parent, objID, objType sql.NullInt64
		n := &exportNode{}
		if err := rows.Scan(&id, &parent, &n.Name, &n.NodeType, &objID, &objType); err != nil {
			return nil, err
		}
		n.ObjID = objID.Int64
		n.ObjType = int(objType.Int64)
		raw = append(raw, rawNode{id: id, parent: parent, node: n})
		byID[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var roots []*exportNode
	for _, rn := range raw {
		if rn.parent.Valid {
			if parent, ok := byID[rn.parent.Int64]; ok {
				parent.Children = append(parent.Children, rn.node)
				continue
			}
		}
		roots = append(roots, rn.node)
	}
	return roots, nil
}
