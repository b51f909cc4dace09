// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package compiler

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
)

func addDHCPRule(t *testing.T, store *db.Store) int64 {
	t.Helper()

	netRes, err := store.DB().Exec(
		`INSERT INTO ipobj (fwcloud, type, name, address, netmask) VALUES (1, ?, 'lan', '192.168.1.0', '255.255.255.0')`,
		models.TypeNetwork)
	require.NoError(t, err)
	netID, err := netRes.LastInsertId()
	require.NoError(t, err)

	res, err := store.DB().Exec(
		`INSERT INTO dhcp_r (firewall, rule_order, rule_type, active, network, max_lease, comment)
		 VALUES (1, 1, 1, 1, ?, 86400, 'LAN pool')`, netID)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestParseServiceKind(t *testing.T) {
	for _, raw := range []string{"dhcp", "haproxy", "keepalived"} {
		kind, err := ParseServiceKind(raw)
		require.NoError(t, err)
		assert.Equal(t, ServiceKind(raw), kind)
	}

	_, err := ParseServiceKind("bind9")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestCompileService(t *testing.T) {
	svc, store := newScriptFixture(t, 0)
	ruleID := addDHCPRule(t, store)

	segments, err := svc.CompileService(context.Background(), ServiceDHCP, 1, 1, nil, nil)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, ruleID, segments[0].ID)
	assert.Contains(t, segments[0].CS, "subnet 192.168.1.0 netmask 255.255.255.0")
	assert.Contains(t, segments[0].CS, "max-lease-time 86400")
}

func TestCompileServiceUnknownFirewall(t *testing.T) {
	svc, _ := newScriptFixture(t, 0)

	_, err := svc.CompileService(context.Background(), ServiceDHCP, 1, 99, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestCompileServiceConfigWritesFile(t *testing.T) {
	svc, store := newScriptFixture(t, 0)
	addDHCPRule(t, store)

	path, err := svc.CompileServiceConfig(context.Background(), ServiceDHCP, 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, svc.cfg.ServiceConfigPath(1, 1, "dhcpd.conf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# LAN pool")
	assert.Contains(t, string(data), "subnet 192.168.1.0")
}
