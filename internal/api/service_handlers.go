// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/compiler"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
)

func serviceParams(r *http.Request) (compiler.ServiceKind, int64, int64, error) {
	kind, err := compiler.ParseServiceKind(mux.Vars(r)["kind"])
	if err != nil {
		return "", 0, 0, err
	}
	fwcloudID, err := pathID(r, "fwcloud")
	if err != nil {
		return "", 0, 0, err
	}
	firewallID, err := pathID(r, "firewall")
	if err != nil {
		return "", 0, 0, err
	}
	return kind, fwcloudID, firewallID, nil
}

// handleServiceCompile renders the service configuration file (dhcpd.conf,
// haproxy.cfg or keepalived.conf) next to the policy script.
func (s *Server) handleServiceCompile(w http.ResponseWriter, r *http.Request) {
	kind, fwcloudID, firewallID, err := serviceParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	path, err := s.script.CompileServiceConfig(r.Context(), kind, fwcloudID, firewallID, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": string(kind), "path": path})
}

// handleServiceInstall ships a previously compiled service configuration to
// the firewall. Unlike the policy script it is only uploaded, not executed;
// the service picks it up on its own reload.
func (s *Server) handleServiceInstall(w http.ResponseWriter, r *http.Request) {
	kind, fwcloudID, firewallID, err := serviceParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	path := s.cfg.ServiceConfigPath(fwcloudID, firewallID, kind.FileName())
	if _, err := os.Stat(path); err != nil {
		writeError(w, errors.Errorf(errors.KindNotFound,
			"firewall %d has no compiled %s configuration", firewallID, kind))
		return
	}

	jobID := uuid.NewString()
	sink := events.NewCompileChannel(s.hub, jobID)

	if err := s.installer.Install(r.Context(), firewallID, path, sink); err != nil {
		s.collector.InstallErrors.Inc()
		writeError(w, err)
		return
	}

	s.collector.InstallsTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "installed"})
}
