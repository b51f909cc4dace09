// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package compiler

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/assembler"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/clock"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/config"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
)

// policyTables is the fixed compile sequence of the policy script.
var policyTables = []struct {
	ruleType int
	name     string
}{
	{models.PolicyTypeInput, "INPUT"},
	{models.PolicyTypeOutput, "OUTPUT"},
	{models.PolicyTypeForward, "FORWARD"},
	{models.PolicyTypeSNAT, "SNAT"},
	{models.PolicyTypeDNAT, "DNAT"},
}

// ScriptService assembles the complete policy script of a firewall: header
// template, greeting and load functions, the five tables in fixed sequence
// and the footer template.
type ScriptService struct {
	store    *db.Store
	cfg      *config.Config
	asm      *assembler.Assembler
	compiler *PolicyCompiler
	logger   *logging.Logger
	clk      clock.Clock
}

// NewScriptService creates the script assembly service.
func NewScriptService(store *db.Store, cfg *config.Config, asm *assembler.Assembler, pc *PolicyCompiler, logger *logging.Logger) *ScriptService {
	return &ScriptService{
		store:    store,
		cfg:      cfg,
		asm:      asm,
		compiler: pc,
		logger:   logger.WithComponent("policy-script"),
		clk:      &clock.RealClock{},
	}
}

// WriteScript generates the full policy script of a firewall into w. Template
// read errors and write errors abort the whole generation; per-rule compile
// errors do not, they surface as progress lines and skipped segments. On full
// success the firewall's needs-compile status bit is cleared; on any failure
// it is left set and the partial output must be discarded.
func (s *ScriptService) WriteScript(ctx context.Context, fwcloudID, firewallID int64, w io.Writer, sink events.Sink) error {
	fw, err := s.loadFirewall(ctx, fwcloudID, firewallID)
	if err != nil {
		return err
	}

	header, err := os.ReadFile(s.cfg.Policy.HeaderFile)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "reading policy header template")
	}
	footer, err := os.ReadFile(s.cfg.Policy.FooterFile)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "reading policy footer template")
	}

	if _, err := w.Write(header); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "writing policy script")
	}

	greeting := "greeting_msg() {\n" +
		"log \"FWCloud.net - Loading firewall policy generated: " + s.clk.Now().Format(time.ANSIC) + "\"\n}\n\n" +
		"policy_load() {\n"
	if _, err := io.WriteString(w, greeting); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "writing policy script")
	}

	if fw.Stateful() {
		preamble := "# Statefull firewall.\n" +
			"$IPTABLES -A INPUT -m state --state ESTABLISHED,RELATED -j ACCEPT\n" +
			"$IPTABLES -A OUTPUT -m state --state ESTABLISHED,RELATED -j ACCEPT\n" +
			"$IPTABLES -A FORWARD -m state --state ESTABLISHED,RELATED -j ACCEPT\n"
		if _, err := io.WriteString(w, preamble); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "writing policy script")
		}
		if sink != nil {
			sink.Notice("--- STATEFULL FIREWALL ---\n\n")
		}
	} else if sink != nil {
		sink.Notice("--- STATELESS FIREWALL ---\n\n")
	}

	rulesData, err := s.asm.Assemble(ctx, assembler.DestinationCompiler, fwcloudID, firewallID, nil)
	if err != nil {
		return err
	}

	for _, table := range policyTables {
		if sink != nil {
			sink.Notice(table.name + " TABLE:\n")
		}
		banner := fmt.Sprintf("\n\necho -e \"\\n%s TABLE\\n%s\"\n",
			table.name, strings.Repeat("-", len(table.name)+6))
		if _, err := io.WriteString(w, banner); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "writing policy script")
		}

		var scoped []assembler.RuleData
		for _, rd := range rulesData {
			if rd.Type == table.ruleType {
				scoped = append(scoped, rd)
			}
		}
		var b strings.Builder
		for _, res := range s.compiler.Compile(scoped, sink) {
			b.WriteString(res.CS)
		}
		if _, err := io.WriteString(w, b.String()); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "writing policy script")
		}
	}

	if _, err := io.WriteString(w, "\n}\n\n"); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "writing policy script")
	}
	if _, err := w.Write(footer); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "writing policy script")
	}
	if sink != nil {
		sink.Notice("END\n")
	}

	return s.clearNeedsCompile(ctx, firewallID)
}

// CompileFirewall writes the policy script to its configured data dir path.
func (s *ScriptService) CompileFirewall(ctx context.Context, fwcloudID, firewallID int64, sink events.Sink) (string, error) {
	path := s.cfg.ScriptPath(fwcloudID, firewallID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "creating policy script directory")
	}

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "creating policy script file")
	}

	if err := s.WriteScript(ctx, fwcloudID, firewallID, f, sink); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "closing policy script file")
	}

	s.logger.Info("policy script generated", "firewall", firewallID, "path", path)
	return path, nil
}

// CompileRules compiles a subset of rules for preview, without touching the
// script file or the firewall status.
func (s *ScriptService) CompileRules(ctx context.Context, fwcloudID, firewallID int64, ruleIDs []int64, sink events.Sink) ([]RuleResult, error) {
	rulesData, err := s.asm.Assemble(ctx, assembler.DestinationCompiler, fwcloudID, firewallID, ruleIDs)
	if err != nil {
		return nil, err
	}
	return s.compiler.Compile(rulesData, sink), nil
}

func (s *ScriptService) loadFirewall(ctx context.Context, fwcloudID, firewallID int64) (*models.Firewall, error) {
	var fw models.Firewall
	err := s.store.DB().QueryRowContext(ctx,
		`SELECT id, fwcloud, cluster, fwmaster, name, options, status, ip, install_port
		 FROM firewall WHERE id = ? AND fwcloud = ?`, firewallID, fwcloudID).
		Scan(&fw.ID, &fw.FwCloudID, &fw.ClusterID, &fw.FwMaster, &fw.Name,
			&fw.Options, &fw.Status, &fw.IP, &fw.InstallPort)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf(errors.KindNotFound, "firewall %d not found in fwcloud %d", firewallID, fwcloudID)
	}
	if err != nil {
		return nil, err
	}
	return &fw, nil
}

func (s *ScriptService) clearNeedsCompile(ctx context.Context, firewallID int64) error {
	_, err := s.store.DB().ExecContext(ctx,
		`UPDATE firewall SET status = status & ~1 WHERE id = ?`, firewallID)
	return err
}
