// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package assembler

import (
	"context"
	"database/sql"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
)

// DHCPRuleData is a dhcp rule with its referenced objects resolved to the
// literal values the dhcpd.conf compiler renders.
type DHCPRuleData struct {
	models.DHCPRule
	NetworkAddress string `json:"network_address,omitempty"`
	NetworkNetmask string `json:"network_netmask,omitempty"`
	RangeStart     string `json:"range_start,omitempty"`
	RangeEnd       string `json:"range_end,omitempty"`
	RouterAddress  string `json:"router_address,omitempty"`
	InterfaceName  string `json:"interface_name,omitempty"`
}

// HAProxyRuleData is an haproxy rule with frontend/backend addresses and
// ports resolved.
type HAProxyRuleData struct {
	models.HAProxyRule
	FrontendAddress string `json:"frontend_address,omitempty"`
	FrontendPort    int    `json:"frontend_port_number,omitempty"`
	BackendAddress  string `json:"backend_address,omitempty"`
	BackendPort     int    `json:"backend_port_number,omitempty"`
}

// KeepalivedRuleData is a keepalived rule with its interface and virtual ip
// resolved.
type KeepalivedRuleData struct {
	models.KeepalivedRule
	InterfaceName    string `json:"interface_name,omitempty"`
	VirtualIPAddress string `json:"virtual_ip_address,omitempty"`
	VirtualIPNetmask string `json:"virtual_ip_netmask,omitempty"`
	MasterNodeName   string `json:"master_node_name,omitempty"`
}

// AssembleDHCP loads the dhcp rules of a firewall in order, with referenced
// objects resolved. ruleIDs filters and reorders like Assemble.
func (a *Assembler) AssembleDHCP(ctx context.Context, fwcloudID, firewallID int64, ruleIDs []int64) ([]DHCPRuleData, error) {
	query := `SELECT r.id, r.firewall, r.idgroup, r.rule_order, r.rule_type, r.active,
			r.network, r.range, r.router, r.interface, r.max_lease, r.comment,
			n.address, n.netmask, g.range_start, g.range_end, rt.address, i.name
		FROM dhcp_r r
		JOIN firewall f ON f.id = r.firewall
		LEFT JOIN ipobj n ON n.id = r.network
		LEFT JOIN ipobj g ON g.id = r.range
		LEFT JOIN ipobj rt ON rt.id = r.router
		LEFT JOIN interface i ON i.id = r.interface
		WHERE f.fwcloud = ? AND r.firewall = ?`
	args := []any{fwcloudID, firewallID}

	if len(ruleIDs) > 0 {
		query += " AND r.id IN (" + placeholders(len(ruleIDs)) + ")"
		for _, id := range ruleIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY r.rule_type ASC, r.rule_order ASC"

	rows, err := a.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DHCPRuleData
	for rows.Next() {
		var (
			rd                             DHCPRuleData
			addr, mask, rs, re, router, ifn sql.NullString
		)
		if err := rows.Scan(&rd.ID, &rd.FirewallID, &rd.GroupID, &rd.RuleOrder,
			&rd.RuleType, &rd.Active, &rd.NetworkID, &rd.RangeID, &rd.RouterID,
			&rd.InterfaceID, &rd.MaxLease, &rd.Comment,
			&addr, &mask, &rs, &re, &router, &ifn); err != nil {
			return nil, err
		}
		rd.NetworkAddress = addr.String
		rd.NetworkNetmask = mask.String
		rd.RangeStart = rs.String
		rd.RangeEnd = re.String
		rd.RouterAddress = router.String
		rd.InterfaceName = ifn.String
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reorderByIDs(out, ruleIDs, func(r DHCPRuleData) int64 { return r.ID })
}

// AssembleHAProxy loads the haproxy rules of a firewall in order.
func (a *Assembler) AssembleHAProxy(ctx context.Context, fwcloudID, firewallID int64, ruleIDs []int64) ([]HAProxyRuleData, error) {
	query := `SELECT r.id, r.firewall, r.idgroup, r.rule_order, r.rule_type, r.active,
			r.style, r.frontend_ip, r.frontend_port, r.backend_ip, r.backend_port, r.comment,
			fi.address, fp.destination_port_start, bi.address, bp.destination_port_start
		FROM haproxy_r r
		JOIN firewall f ON f.id = r.firewall
		LEFT JOIN ipobj fi ON fi.id = r.frontend_ip
		LEFT JOIN ipobj fp ON fp.id = r.frontend_port
		LEFT JOIN ipobj bi ON bi.id = r.backend_ip
		LEFT JOIN ipobj bp ON bp.id = r.backend_port
		WHERE f.fwcloud = ? AND r.firewall = ?`
	args := []any{fwcloudID, firewallID}

	if len(ruleIDs) > 0 {
		query += " AND r.id IN (" + placeholders(len(ruleIDs)) + ")"
		for _, id := range ruleIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY r.rule_type ASC, r.rule_order ASC"

	rows, err := a.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HAProxyRuleData
	for rows.Next() {
		var (
			rd       HAProxyRuleData
			fa, ba   sql.NullString
			fp, bp   sql.NullInt64
		)
		if err := rows.Scan(&rd.ID, &rd.FirewallID, &rd.GroupID, &rd.RuleOrder,
			&rd.RuleType, &rd.Active, &rd.Style, &rd.FrontendIPID, &rd.FrontendPortID,
			&rd.BackendIPID, &rd.BackendPortID, &rd.Comment,
			&fa, &fp, &ba, &bp); err != nil {
			return nil, err
		}
		rd.FrontendAddress = fa.String
		rd.FrontendPort = int(fp.Int64)
		rd.BackendAddress = ba.String
		rd.BackendPort = int(bp.Int64)
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reorderByIDs(out, ruleIDs, func(r HAProxyRuleData) int64 { return r.ID })
}

// AssembleKeepalived loads the keepalived rules of a firewall in order.
func (a *Assembler) AssembleKeepalived(ctx context.Context, fwcloudID, firewallID int64, ruleIDs []int64) ([]KeepalivedRuleData, error) {
	query := `SELECT r.id, r.firewall, r.idgroup, r.rule_order, r.rule_type, r.active,
			r.interface, r.virtual_ip, r.master_node, r.comment,
			i.name, v.address, v.netmask, m.name
		FROM keepalived_r r
		JOIN firewall f ON f.id = r.firewall
		LEFT JOIN interface i ON i.id = r.interface
		LEFT JOIN ipobj v ON v.id = r.virtual_ip
		LEFT JOIN firewall m ON m.id = r.master_node
		WHERE f.fwcloud = ? AND r.firewall = ?`
	args := []any{fwcloudID, firewallID}

	if len(ruleIDs) > 0 {
		query += " AND r.id IN (" + placeholders(len(ruleIDs)) + ")"
		for _, id := range ruleIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY r.rule_type ASC, r.rule_order ASC"

	rows, err := a.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeepalivedRuleData
	for rows.Next() {
		var (
			rd            KeepalivedRuleData
			ifn, va, vm, mn sql.NullString
		)
		if err := rows.Scan(&rd.ID, &rd.FirewallID, &rd.GroupID, &rd.RuleOrder,
			&rd.RuleType, &rd.Active, &rd.InterfaceID, &rd.VirtualIPID,
			&rd.MasterNodeID, &rd.Comment,
			&ifn, &va, &vm, &mn); err != nil {
			return nil, err
		}
		rd.InterfaceName = ifn.String
		rd.VirtualIPAddress = va.String
		rd.VirtualIPNetmask = vm.String
		rd.MasterNodeName = mn.String
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reorderByIDs(out, ruleIDs, func(r KeepalivedRuleData) int64 { return r.ID })
}

// reorderByIDs restores the caller's id order when an explicit id filter was
// given, failing when any requested rule is missing.
func reorderByIDs[T any](in []T, ruleIDs []int64, id func(T) int64) ([]T, error) {
	if len(ruleIDs) == 0 {
		return in, nil
	}
	if len(in) != len(ruleIDs) {
		return nil, errors.Errorf(errors.KindNotFound,
			"rules not found: expected %d, found %d", len(ruleIDs), len(in))
	}
	byID := make(map[int64]T, len(in))
	for _, r := range in {
		byID[id(r)] = r
	}
	out := make([]T, 0, len(ruleIDs))
	for _, rid := range ruleIDs {
		out = append(out, byID[rid])
	}
	return out, nil
}
