// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package compiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/assembler"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/config"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/policy"
)

func newScriptFixture(t *testing.T, fwOptions int) (*ScriptService, *db.Store) {
	t.Helper()

	store, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.DB().Exec(`INSERT INTO fwcloud (id, name) VALUES (1, 'cloud')`)
	require.NoError(t, err)
	_, err = store.DB().Exec(
		`INSERT INTO firewall (id, fwcloud, name, options, status) VALUES (1, 1, 'fw1', ?, 1)`, fwOptions)
	require.NoError(t, err)

	dir := t.TempDir()
	header := filepath.Join(dir, "header.sh")
	footer := filepath.Join(dir, "footer.sh")
	require.NoError(t, os.WriteFile(header, []byte("#!/bin/sh\n# header\n"), 0o644))
	require.NoError(t, os.WriteFile(footer, []byte("# footer\n"), 0o644))

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Policy.HeaderFile = header
	cfg.Policy.FooterFile = footer

	logger := testLogger()
	asm := assembler.New(store, logger)
	return NewScriptService(store, cfg, asm, NewPolicyCompiler(logger), logger), store
}

func addScriptRule(t *testing.T, store *db.Store, order, ruleType int, addr string) {
	t.Helper()
	res, err := store.DB().Exec(
		`INSERT INTO policy_r (firewall, rule_order, type) VALUES (1, ?, ?)`, order, ruleType)
	require.NoError(t, err)
	ruleID, err := res.LastInsertId()
	require.NoError(t, err)

	objRes, err := store.DB().Exec(
		`INSERT INTO ipobj (fwcloud, type, name, address) VALUES (1, ?, 'a', ?)`,
		models.TypeAddress, addr)
	require.NoError(t, err)
	objID, err := objRes.LastInsertId()
	require.NoError(t, err)

	_, err = store.DB().Exec(
		`INSERT INTO policy_r__ipobj (rule, ipobj, position, position_order) VALUES (?, ?, ?, 1)`,
		ruleID, objID, policy.PositionSource)
	require.NoError(t, err)
}

func firewallStatus(t *testing.T, store *db.Store) int {
	t.Helper()
	var status int
	require.NoError(t, store.DB().QueryRow(`SELECT status FROM firewall WHERE id = 1`).Scan(&status))
	return status
}

func TestWriteScript(t *testing.T) {
	svc, store := newScriptFixture(t, models.FwOptionStateful)
	addScriptRule(t, store, 1, models.PolicyTypeInput, "10.0.0.1")
	addScriptRule(t, store, 1, models.PolicyTypeOutput, "10.0.0.2")

	var out strings.Builder
	sink := &recordingSink{}
	require.NoError(t, svc.WriteScript(context.Background(), 1, 1, &out, sink))
	script := out.String()

	// Header, framing functions and footer in order.
	assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n# header\n"))
	assert.Contains(t, script, "greeting_msg() {")
	assert.Contains(t, script, "policy_load() {")
	assert.True(t, strings.HasSuffix(script, "# footer\n"))

	// Stateful preamble before the tables.
	preambleAt := strings.Index(script, "--state ESTABLISHED,RELATED -j ACCEPT")
	inputAt := strings.Index(script, `echo -e "\nINPUT TABLE`)
	require.Greater(t, preambleAt, 0)
	require.Greater(t, inputAt, preambleAt)

	// Table banners in strict sequence.
	last := -1
	for _, name := range []string{"INPUT", "OUTPUT", "FORWARD", "SNAT", "DNAT"} {
		at := strings.Index(script, `echo -e "\n`+name+` TABLE`)
		require.Greater(t, at, last, "%s banner out of sequence", name)
		last = at
	}

	// Rules landed in their tables.
	assert.Contains(t, script, "-s 10.0.0.1")
	assert.Contains(t, script, "-s 10.0.0.2")

	// Full success clears the needs-compile bit.
	assert.Zero(t, firewallStatus(t, store)&models.FwStatusNeedsCompile)

	assert.Contains(t, sink.notices, "--- STATEFULL FIREWALL ---\n\n")
	assert.Contains(t, sink.notices, "INPUT TABLE:\n")
	assert.Contains(t, sink.notices, "END\n")
}

func TestWriteScriptStateless(t *testing.T) {
	svc, _ := newScriptFixture(t, 0)

	var out strings.Builder
	sink := &recordingSink{}
	require.NoError(t, svc.WriteScript(context.Background(), 1, 1, &out, sink))

	assert.NotContains(t, out.String(), "ESTABLISHED,RELATED")
	assert.Contains(t, sink.notices, "--- STATELESS FIREWALL ---\n\n")
}

func TestWriteScriptMissingHeaderIsFatal(t *testing.T) {
	svc, store := newScriptFixture(t, 0)
	svc.cfg.Policy.HeaderFile = "/nonexistent/header.sh"

	var out strings.Builder
	err := svc.WriteScript(context.Background(), 1, 1, &out, nil)
	require.Error(t, err)

	// A failed compile leaves the needs-compile bit set.
	assert.NotZero(t, firewallStatus(t, store)&models.FwStatusNeedsCompile)
}

func TestWriteScriptUnknownFirewall(t *testing.T) {
	svc, _ := newScriptFixture(t, 0)

	var out strings.Builder
	err := svc.WriteScript(context.Background(), 1, 99, &out, nil)
	require.Error(t, err)
}

func TestCompileFirewallWritesFile(t *testing.T) {
	svc, store := newScriptFixture(t, 0)
	addScriptRule(t, store, 1, models.PolicyTypeInput, "10.0.0.1")

	path, err := svc.CompileFirewall(context.Background(), 1, 1, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-s 10.0.0.1")
}

func TestCompileRulesPreview(t *testing.T) {
	svc, store := newScriptFixture(t, 0)
	addScriptRule(t, store, 1, models.PolicyTypeInput, "10.0.0.1")

	var ruleID int64
	require.NoError(t, store.DB().QueryRow(`SELECT id FROM policy_r LIMIT 1`).Scan(&ruleID))

	results, err := svc.CompileRules(context.Background(), 1, 1, []int64{ruleID}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].CS, "-s 10.0.0.1")

	// Preview never clears the compile status.
	assert.NotZero(t, firewallStatus(t, store)&models.FwStatusNeedsCompile)
}
