// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package assembler joins rules with their positioned object references and
// produces the data shapes the compilers and the UI grid consume. Object
// groups are expanded into their leaf members, so downstream code never sees
// a group.
package assembler

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
)

// Destination selects the output shape of an assembly.
type Destination string

const (
	// DestinationCompiler produces items carrying the raw address/port/mark
	// data the compilers render from.
	DestinationCompiler Destination = "compiler"
	// DestinationGrid produces items carrying the names and owner references
	// the policy grid displays.
	DestinationGrid Destination = "grid"
)

// ParseDestination validates a wire value into a Destination.
func ParseDestination(s string) (Destination, error) {
	d := Destination(s)
	if d != DestinationCompiler && d != DestinationGrid {
		return "", errors.Errorf(errors.KindValidation,
			"invalid destination %q (must be %q or %q)", s, DestinationCompiler, DestinationGrid)
	}
	return d, nil
}

// Item is one resolved object reference of a rule. Which fields are populated
// depends on the assembly destination; Position, Order, Type and Negate are
// always set.
type Item struct {
	Position int  `json:"position"`
	Order    int  `json:"_order"`
	Type     int  `json:"type"`
	Negate   bool `json:"negate"`

	// Compiler shape.
	EntityID     int64  `json:"entityId,omitempty"`
	Address      string `json:"address,omitempty"`
	Netmask      string `json:"netmask,omitempty"`
	RangeStart   string `json:"range_start,omitempty"`
	RangeEnd     string `json:"range_end,omitempty"`
	Protocol     int    `json:"protocol,omitempty"`
	SrcPortStart int    `json:"source_port_start,omitempty"`
	SrcPortEnd   int    `json:"source_port_end,omitempty"`
	DstPortStart int    `json:"destination_port_start,omitempty"`
	DstPortEnd   int    `json:"destination_port_end,omitempty"`
	ICMPType     int    `json:"icmp_type,omitempty"`
	ICMPCode     int    `json:"icmp_code,omitempty"`
	MarkCode     int    `json:"mark_code,omitempty"`
	IfName       string `json:"if_name,omitempty"`

	// Grid shape.
	ID           int64  `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	FirewallID   int64  `json:"firewall_id,omitempty"`
	FirewallName string `json:"firewall_name,omitempty"`
	ClusterID    int64  `json:"cluster_id,omitempty"`
	ClusterName  string `json:"cluster_name,omitempty"`
}

// RuleData is a policy rule with its resolved items, ready for a compiler or
// the grid.
type RuleData struct {
	models.PolicyRule
	FwCloudID int64  `json:"fwcloud"`
	FwName    string `json:"firewall_name"`
	Items     []Item `json:"items"`
}

// Assembler resolves rules against the object graph.
type Assembler struct {
	store  *db.Store
	logger *logging.Logger
}

// New creates an Assembler over a store.
func New(store *db.Store, logger *logging.Logger) *Assembler {
	return &Assembler{store: store, logger: logger.WithComponent("assembler")}
}

// Assemble loads the policy rules of a firewall with their resolved items.
// With ruleIDs nil every rule of the firewall is returned in (type, order)
// sequence; with ruleIDs given, only those rules are returned, preserving the
// caller's id order.
func (a *Assembler) Assemble(ctx context.Context, dest Destination, fwcloudID, firewallID int64, ruleIDs []int64) ([]RuleData, error) {
	rules, err := a.loadRules(ctx, fwcloudID, firewallID, ruleIDs)
	if err != nil {
		return nil, err
	}

	for i := range rules {
		items, err := a.loadItems(ctx, dest, rules[i].ID)
		if err != nil {
			return nil, err
		}
		rules[i].Items = items
	}
	return rules, nil
}

func (a *Assembler) loadRules(ctx context.Context, fwcloudID, firewallID int64, ruleIDs []int64) ([]RuleData, error) {
	query := `SELECT r.id, r.firewall, r.idgroup, r.rule_order, r.type, r.action,
			r.active, r.options, r.style, r.comment, r.special, f.fwcloud, f.name
		FROM policy_r r JOIN firewall f ON f.id = r.firewall
		WHERE f.fwcloud = ? AND r.firewall = ?`
	args := []any{fwcloudID, firewallID}

	if len(ruleIDs) > 0 {
		query += " AND r.id IN (" + placeholders(len(ruleIDs)) + ")"
		for _, id := range ruleIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY r.type ASC, r.rule_order ASC"

	rows, err := a.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RuleData
	for rows.Next() {
		var rd RuleData
		if err := rows.Scan(&rd.ID, &rd.FirewallID, &rd.GroupID, &rd.RuleOrder,
			&rd.Type, &rd.Action, &rd.Active, &rd.Options, &rd.Style, &rd.Comment,
			&rd.Special, &rd.FwCloudID, &rd.FwName); err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ruleIDs) > 0 {
		if len(out) != len(ruleIDs) {
			return nil, errors.Errorf(errors.KindNotFound,
				"policy rules not found: expected %d, found %d", len(ruleIDs), len(out))
		}
		byID := make(map[int64]RuleData, len(out))
		for _, rd := range out {
			byID[rd.ID] = rd
		}
		ordered := make([]RuleData, 0, len(ruleIDs))
		for _, id := range ruleIDs {
			ordered = append(ordered, byID[id])
		}
		out = ordered
	}
	return out, nil
}

func (a *Assembler) loadItems(ctx context.Context, dest Destination, ruleID int64) ([]Item, error) {
	rows, err := a.store.DB().QueryContext(ctx,
		`SELECT ipobj, ipobj_g, interface, mark, position, position_order, negate
		 FROM policy_r__ipobj WHERE rule = ?
		 ORDER BY position ASC, position_order ASC`, ruleID)
	if err != nil {
		return nil, err
	}

	var refs []models.PositionedItem
	for rows.Next() {
		pi := models.PositionedItem{RuleID: ruleID}
		if err := rows.Scan(&pi.IPObjID, &pi.IPObjGroupID, &pi.InterfaceID, &pi.MarkID,
			&pi.Position, &pi.PositionOrder, &pi.Negate); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, pi)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	items := make([]Item, 0, len(refs))
	for _, pi := range refs {
		resolved, err := a.resolve(ctx, dest, pi)
		if err != nil {
			return nil, err
		}
		items = append(items, resolved...)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].Order < items[j].Order
	})
	return items, nil
}

// resolve turns one positioned reference into its leaf items. A group
// reference yields one item per member; everything else yields exactly one.
func (a *Assembler) resolve(ctx context.Context, dest Destination, pi models.PositionedItem) ([]Item, error) {
	switch {
	case pi.IPObjID.Valid:
		obj, err := a.loadIPObj(ctx, pi.IPObjID.Int64)
		if err != nil {
			return nil, err
		}
		return []Item{itemFromIPObj(dest, obj, pi)}, nil

	case pi.IPObjGroupID.Valid:
		members, err := a.loadGroupMembers(ctx, pi.IPObjGroupID.Int64)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(members))
		for _, m := range members {
			items = append(items, itemFromIPObj(dest, m, pi))
		}
		return items, nil

	case pi.InterfaceID.Valid:
		return a.resolveInterface(ctx, dest, pi)

	case pi.MarkID.Valid:
		var mark models.Mark
		err := a.store.DB().QueryRowContext(ctx,
			`SELECT id, fwcloud, code, name FROM mark WHERE id = ?`, pi.MarkID.Int64).
			Scan(&mark.ID, &mark.FwCloudID, &mark.Code, &mark.Name)
		if err == sql.ErrNoRows {
			return nil, errors.Errorf(errors.KindNotFound, "mark %d not found", pi.MarkID.Int64)
		}
		if err != nil {
			return nil, err
		}
		item := Item{
			Position: pi.Position,
			Order:    pi.PositionOrder,
			Type:     models.TypeMark,
			Negate:   pi.Negate,
		}
		if dest == DestinationCompiler {
			item.EntityID = mark.ID
			item.MarkCode = mark.Code
		} else {
			item.ID = mark.ID
			item.Name = mark.Name
		}
		return []Item{item}, nil

	default:
		return nil, errors.Errorf(errors.KindInternal,
			"positioned item of rule %d references nothing", pi.RuleID)
	}
}

func (a *Assembler) resolveInterface(ctx context.Context, dest Destination, pi models.PositionedItem) ([]Item, error) {
	var (
		iface       models.Interface
		objType     int
		fwName      sql.NullString
		clusterID   sql.NullInt64
		clusterName sql.NullString
	)
	err := a.store.DB().QueryRowContext(ctx,
		`SELECT i.id, i.firewall, i.name, i.labelName, f.name, f.cluster, c.name
		 FROM interface i
		 LEFT JOIN firewall f ON f.id = i.firewall
		 LEFT JOIN cluster c ON c.id = f.cluster
		 WHERE i.id = ?`, pi.InterfaceID.Int64).
		Scan(&iface.ID, &iface.FirewallID, &iface.Name, &iface.LabelName,
			&fwName, &clusterID, &clusterName)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf(errors.KindNotFound, "interface %d not found", pi.InterfaceID.Int64)
	}
	if err != nil {
		return nil, err
	}

	if iface.FirewallID.Valid {
		objType = models.TypeInterfaceFirewall
	} else {
		objType = models.TypeInterfaceHost
	}

	item := Item{
		Position: pi.Position,
		Order:    pi.PositionOrder,
		Type:     objType,
		Negate:   pi.Negate,
	}
	if dest == DestinationCompiler {
		item.EntityID = iface.ID
		item.IfName = iface.Name
	} else {
		item.ID = iface.ID
		item.Name = iface.Name
		if iface.LabelName.Valid && iface.LabelName.String != "" {
			item.Name = iface.LabelName.String
		}
		if iface.FirewallID.Valid {
			item.FirewallID = iface.FirewallID.Int64
			item.FirewallName = fwName.String
		}
		if clusterID.Valid {
			item.ClusterID = clusterID.Int64
			item.ClusterName = clusterName.String
		}
	}
	return []Item{item}, nil
}

func (a *Assembler) loadIPObj(ctx context.Context, id int64) (models.IPObj, error) {
	var obj models.IPObj
	err := a.store.DB().QueryRowContext(ctx,
		`SELECT id, fwcloud, interface, type, name, address, netmask,
			range_start, range_end, protocol,
			source_port_start, source_port_end,
			destination_port_start, destination_port_end,
			icmp_type, icmp_code
		 FROM ipobj WHERE id = ?`, id).
		Scan(&obj.ID, &obj.FwCloudID, &obj.InterfaceID, &obj.Type, &obj.Name,
			&obj.Address, &obj.Netmask, &obj.RangeStart, &obj.RangeEnd, &obj.Protocol,
			&obj.SrcPortStart, &obj.SrcPortEnd, &obj.DstPortStart, &obj.DstPortEnd,
			&obj.ICMPType, &obj.ICMPCode)
	if err == sql.ErrNoRows {
		return obj, errors.Errorf(errors.KindNotFound, "ipobj %d not found", id)
	}
	return obj, err
}

// loadGroupMembers returns the leaf objects of a group, in stable id order.
func (a *Assembler) loadGroupMembers(ctx context.Context, groupID int64) ([]models.IPObj, error) {
	rows, err := a.store.DB().QueryContext(ctx,
		`SELECT o.id, o.fwcloud, o.interface, o.type, o.name, o.address, o.netmask,
			o.range_start, o.range_end, o.protocol,
			o.source_port_start, o.source_port_end,
			o.destination_port_start, o.destination_port_end,
			o.icmp_type, o.icmp_code
		 FROM ipobj o JOIN ipobj_g__ipobj gi ON gi.id_ipobj = o.id
		 WHERE gi.id_gi = ?
		 ORDER BY o.id ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IPObj
	for rows.Next() {
		var obj models.IPObj
		if err := rows.Scan(&obj.ID, &obj.FwCloudID, &obj.InterfaceID, &obj.Type, &obj.Name,
			&obj.Address, &obj.Netmask, &obj.RangeStart, &obj.RangeEnd, &obj.Protocol,
			&obj.SrcPortStart, &obj.SrcPortEnd, &obj.DstPortStart, &obj.DstPortEnd,
			&obj.ICMPType, &obj.ICMPCode); err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

// itemFromIPObj shapes one leaf object into an item. ICMP type and code use
// -1 for "any" so the compiler can distinguish absent from zero.
func itemFromIPObj(dest Destination, obj models.IPObj, pi models.PositionedItem) Item {
	item := Item{
		Position: pi.Position,
		Order:    pi.PositionOrder,
		Type:     obj.Type,
		Negate:   pi.Negate,
	}
	if dest == DestinationGrid {
		item.ID = obj.ID
		item.Name = obj.Name
		return item
	}

	item.EntityID = obj.ID
	item.Address = obj.Address.String
	item.Netmask = obj.Netmask.String
	item.RangeStart = obj.RangeStart.String
	item.RangeEnd = obj.RangeEnd.String
	item.Protocol = int(obj.Protocol.Int64)
	item.SrcPortStart = int(obj.SrcPortStart.Int64)
	item.SrcPortEnd = int(obj.SrcPortEnd.Int64)
	item.DstPortStart = int(obj.DstPortStart.Int64)
	item.DstPortEnd = int(obj.DstPortEnd.Int64)
	item.ICMPType = nullableICMP(obj.ICMPType)
	item.ICMPCode = nullableICMP(obj.ICMPCode)
	return item
}

func nullableICMP(v sql.NullInt64) int {
	if !v.Valid {
		return -1
	}
	return int(v.Int64)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
