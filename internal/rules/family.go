// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rules implements the ordering engine shared by every rule family:
// move, copy and remove operations that keep rule_order dense and gapless
// within each (firewall, group) scope.
package rules

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
)

// Family describes one rule table so the ordering engine can operate on it.
// All family tables carry the ordering columns (firewall, idgroup,
// rule_order); Columns lists the family-specific fields duplicated on copy.
type Family struct {
	Name    string
	Table   string
	Columns []string

	// AfterCopy duplicates family-owned satellite rows (positioned items)
	// from a source rule to its fresh copy. Nil when the family has none.
	AfterCopy func(tx *sql.Tx, srcID, dstID int64) error
}

// Predefined rule families.
var (
	PolicyFamily = Family{
		Name:    "policy",
		Table:   "policy_r",
		Columns: []string{"type", "action", "active", "options", "style", "comment", "special"},
		AfterCopy: func(tx *sql.Tx, srcID, dstID int64) error {
			_, err := tx.Exec(`INSERT INTO policy_r__ipobj
				(rule, ipobj, ipobj_g, interface, mark, position, position_order, negate)
				SELECT ?, ipobj, ipobj_g, interface, mark, position, position_order, negate
				FROM policy_r__ipobj WHERE rule = ?`, dstID, srcID)
			return err
		},
	}

	RoutingFamily = Family{
		Name:    "routing",
		Table:   "routing_r",
		Columns: []string{"active", "gateway", "comment"},
	}

	DHCPFamily = Family{
		Name:    "dhcp",
		Table:   "dhcp_r",
		Columns: []string{"rule_type", "active", "network", "range", "router", "interface", "max_lease", "comment"},
	}

	HAProxyFamily = Family{
		Name:    "haproxy",
		Table:   "haproxy_r",
		Columns: []string{"rule_type", "active", "style", "frontend_ip", "frontend_port", "backend_ip", "backend_port", "comment"},
	}

	KeepalivedFamily = Family{
		Name:    "keepalived",
		Table:   "keepalived_r",
		Columns: []string{"rule_type", "active", "interface", "virtual_ip", "master_node", "comment"},
	}
)

// Families lists every registered rule family, keyed by name.
var Families = map[string]Family{
	PolicyFamily.Name:     PolicyFamily,
	RoutingFamily.Name:    RoutingFamily,
	DHCPFamily.Name:       DHCPFamily,
	HAProxyFamily.Name:    HAProxyFamily,
	KeepalivedFamily.Name: KeepalivedFamily,
}

// columnList renders the family column list for SQL statements.
func (f Family) columnList() string {
	return strings.Join(f.Columns, ", ")
}

// hasColumn reports whether name is a writable family-specific column.
// Ordering columns are excluded on purpose; they only change through the
// ordering operations.
func (f Family) hasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// writableValues splits a column/value map into parallel slices in the
// family's declared column order, rejecting any key outside the writable set.
func (f Family) writableValues(values map[string]any) ([]string, []any, error) {
	for name := range values {
		if !f.hasColumn(name) {
			return nil, nil, errors.Errorf(errors.KindValidation,
				"unknown %s rule column: %q", f.Name, name)
		}
	}

	var cols []string
	var args []any
	for _, c := range f.Columns {
		if v, ok := values[c]; ok {
			cols = append(cols, c)
			args = append(args, v)
		}
	}
	return cols, args, nil
}

// Scope is the ordering domain: a firewall, optionally narrowed to a group.
// Order values are dense and unique within one scope.
type Scope struct {
	FirewallID int64
	GroupID    sql.NullInt64
}

// Equal reports whether two scopes are the same ordering domain.
func (s Scope) Equal(o Scope) bool {
	if s.FirewallID != o.FirewallID {
		return false
	}
	if s.GroupID.Valid != o.GroupID.Valid {
		return false
	}
	return !s.GroupID.Valid || s.GroupID.Int64 == o.GroupID.Int64
}

// cond renders the WHERE fragment selecting this scope.
func (s Scope) cond() (string, []any) {
	if s.GroupID.Valid {
		return "firewall = ? AND idgroup = ?", []any{s.FirewallID, s.GroupID.Int64}
	}
	return "firewall = ? AND idgroup IS NULL", []any{s.FirewallID}
}

func (s Scope) String() string {
	if s.GroupID.Valid {
		return fmt.Sprintf("firewall %d group %d", s.FirewallID, s.GroupID.Int64)
	}
	return fmt.Sprintf("firewall %d", s.FirewallID)
}
