// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package models

import "database/sql"

// RuleRow is the ordering projection every rule family shares. The generic
// ordering engine reads and writes only these columns; family-specific fields
// stay in the family tables and are duplicated wholesale on copy.
type RuleRow struct {
	ID         int64         `json:"id"`
	FirewallID int64         `json:"firewall"`
	GroupID    sql.NullInt64 `json:"idgroup"`
	RuleOrder  int           `json:"rule_order"`
}

// PolicyRule is one policy directive (filter or NAT).
type PolicyRule struct {
	ID         int64          `json:"id"`
	FirewallID int64          `json:"firewall"`
	GroupID    sql.NullInt64  `json:"idgroup"`
	RuleOrder  int            `json:"rule_order"`
	Type       int            `json:"type"`
	Action     int            `json:"action"`
	Active     bool           `json:"active"`
	Options    int            `json:"options"`
	Style      sql.NullString `json:"style"`
	Comment    sql.NullString `json:"comment"`
	Special    int            `json:"special"`
}

// RoutingRule is one routing directive.
type RoutingRule struct {
	ID         int64          `json:"id"`
	FirewallID int64          `json:"firewall"`
	GroupID    sql.NullInt64  `json:"idgroup"`
	RuleOrder  int            `json:"rule_order"`
	Active     bool           `json:"active"`
	GatewayID  sql.NullInt64  `json:"gateway"`
	Comment    sql.NullString `json:"comment"`
}

// DHCPRule is one dhcpd.conf subnet/host declaration.
type DHCPRule struct {
	ID          int64          `json:"id"`
	FirewallID  int64          `json:"firewall"`
	GroupID     sql.NullInt64  `json:"idgroup"`
	RuleOrder   int            `json:"rule_order"`
	RuleType    int            `json:"rule_type"`
	Active      bool           `json:"active"`
	NetworkID   sql.NullInt64  `json:"network"`
	RangeID     sql.NullInt64  `json:"range"`
	RouterID    sql.NullInt64  `json:"router"`
	InterfaceID sql.NullInt64  `json:"interface"`
	MaxLease    int            `json:"max_lease"`
	Comment     sql.NullString `json:"comment"`
}

// HAProxyRule is one load balancer frontend/backend pair.
type HAProxyRule struct {
	ID             int64          `json:"id"`
	FirewallID     int64          `json:"firewall"`
	GroupID        sql.NullInt64  `json:"idgroup"`
	RuleOrder      int            `json:"rule_order"`
	RuleType       int            `json:"rule_type"`
	Active         bool           `json:"active"`
	Style          sql.NullString `json:"style"`
	FrontendIPID   sql.NullInt64  `json:"frontend_ip"`
	FrontendPortID sql.NullInt64  `json:"frontend_port"`
	BackendIPID    sql.NullInt64  `json:"backend_ip"`
	BackendPortID  sql.NullInt64  `json:"backend_port"`
	Comment        sql.NullString `json:"comment"`
}

// KeepalivedRule is one VRRP high-availability directive.
type KeepalivedRule struct {
	ID           int64          `json:"id"`
	FirewallID   int64          `json:"firewall"`
	GroupID      sql.NullInt64  `json:"idgroup"`
	RuleOrder    int            `json:"rule_order"`
	RuleType     int            `json:"rule_type"`
	Active       bool           `json:"active"`
	InterfaceID  sql.NullInt64  `json:"interface"`
	VirtualIPID  sql.NullInt64  `json:"virtual_ip"`
	MasterNodeID sql.NullInt64  `json:"master_node"`
	Comment      sql.NullString `json:"comment"`
}

// PositionedItem associates a policy rule with an object at a position.
// Exactly one of IPObjID, IPObjGroupID, InterfaceID and MarkID is set.
type PositionedItem struct {
	RuleID        int64         `json:"rule"`
	IPObjID       sql.NullInt64 `json:"ipobj"`
	IPObjGroupID  sql.NullInt64 `json:"ipobj_g"`
	InterfaceID   sql.NullInt64 `json:"interface"`
	MarkID        sql.NullInt64 `json:"mark"`
	Position      int           `json:"position"`
	PositionOrder int           `json:"position_order"`
	Negate        bool          `json:"negate"`
}
