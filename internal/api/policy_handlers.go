// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/assembler"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
)

func (s *Server) handleRuleData(w http.ResponseWriter, r *http.Request) {
	fwcloudID, err := pathID(r, "fwcloud")
	if err != nil {
		writeError(w, err)
		return
	}
	firewallID, err := pathID(r, "firewall")
	if err != nil {
		writeError(w, err)
		return
	}
	dest, err := assembler.ParseDestination(mux.Vars(r)["dest"])
	if err != nil {
		writeError(w, err)
		return
	}
	ruleIDs, err := parseIDList(r.URL.Query().Get("rules"))
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := s.asm.Assemble(r.Context(), dest, fwcloudID, firewallID, ruleIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleCompile starts an asynchronous full compile. Progress is streamed
// over the websocket under the returned job id.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	fwcloudID, err := pathID(r, "fwcloud")
	if err != nil {
		writeError(w, err)
		return
	}
	firewallID, err := pathID(r, "firewall")
	if err != nil {
		writeError(w, err)
		return
	}

	jobID := uuid.NewString()
	go s.runCompileJob(jobID, fwcloudID, firewallID)

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) runCompileJob(jobID string, fwcloudID, firewallID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	sink := events.NewCompileChannel(s.hub, jobID)
	start := time.Now()
	path, err := s.script.CompileFirewall(ctx, fwcloudID, firewallID, sink)

	s.collector.CompilesTotal.Inc()
	s.collector.CompileDuration.Observe(time.Since(start).Seconds())

	done := events.Event{Type: events.EventCompileDone, JobID: jobID, Source: "compiler"}
	if err != nil {
		s.collector.CompileErrorsTotal.Inc()
		s.logger.Error("compile failed", "firewall", firewallID, "job", jobID, "error", err)
		done.Data = map[string]any{"error": err.Error()}
	} else {
		s.logger.Info("compile finished", "firewall", firewallID, "job", jobID, "script", path)
		done.Data = map[string]any{"script": path}
	}
	s.hub.Publish(done)
}

type previewRequest struct {
	Rules []int64 `json:"rules"`
}

func (s *Server) handleCompilePreview(w http.ResponseWriter, r *http.Request) {
	fwcloudID, err := pathID(r, "fwcloud")
	if err != nil {
		writeError(w, err)
		return
	}
	firewallID, err := pathID(r, "firewall")
	if err != nil {
		writeError(w, err)
		return
	}

	var req previewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	results, err := s.script.CompileRules(r.Context(), fwcloudID, firewallID, req.Rules, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handlePolicyDiff compiles the firewall and returns a unified diff between
// the previous script and the freshly generated one.
func (s *Server) handlePolicyDiff(w http.ResponseWriter, r *http.Request) {
	fwcloudID, err := pathID(r, "fwcloud")
	if err != nil {
		writeError(w, err)
		return
	}
	firewallID, err := pathID(r, "firewall")
	if err != nil {
		writeError(w, err)
		return
	}

	scriptPath := s.cfg.ScriptPath(fwcloudID, firewallID)
	previous, _ := os.ReadFile(scriptPath)

	path, err := s.script.CompileFirewall(r.Context(), fwcloudID, firewallID, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	current, err := os.ReadFile(path)
	if err != nil {
		writeError(w, err)
		return
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(previous)),
		B:        difflib.SplitLines(string(current)),
		FromFile: "previous",
		ToFile:   "current",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		writeError(w, err)
		return
	}
	if text == "" {
		text = "No changes.\n"
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(text))
}

// handleInstall pushes the compiled script to the firewall and runs it.
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	fwcloudID, err := pathID(r, "fwcloud")
	if err != nil {
		writeError(w, err)
		return
	}
	firewallID, err := pathID(r, "firewall")
	if err != nil {
		writeError(w, err)
		return
	}

	scriptPath := s.cfg.ScriptPath(fwcloudID, firewallID)
	if _, err := os.Stat(scriptPath); err != nil {
		writeError(w, errors.Errorf(errors.KindNotFound,
			"firewall %d has no compiled script", firewallID))
		return
	}

	jobID := uuid.NewString()
	sink := events.NewCompileChannel(s.hub, jobID)

	if err := s.installer.Install(r.Context(), firewallID, scriptPath, sink); err != nil {
		s.collector.InstallErrors.Inc()
		writeError(w, err)
		return
	}
	if err := s.installer.Execute(r.Context(), firewallID, s.cfg.Policy.ScriptName, sink); err != nil {
		s.collector.InstallErrors.Inc()
		writeError(w, err)
		return
	}

	s.collector.InstallsTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "installed"})
}
