// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package models holds the entity row types shared by the repositories, the
// assembler and the compilers, plus the object/rule type codes.
package models

import "database/sql"

// IPObj type codes. These identify what an abstract network/service object is
// and drive position compatibility and compiler rendering.
const (
	TypeFirewall          = 0
	TypeIP                = 1
	TypeTCP               = 2
	TypeICMP              = 3
	TypeUDP               = 4
	TypeAddress           = 5
	TypeAddressRange      = 6
	TypeNetwork           = 7
	TypeHost              = 8
	TypeInterfaceFirewall = 10
	TypeInterfaceHost     = 11
	TypeGroupObjects      = 20
	TypeGroupServices     = 21
	TypeMark              = 30
	TypeCluster           = 100
)

// Policy rule types, compiled strictly in this sequence.
const (
	PolicyTypeInput   = 1
	PolicyTypeOutput  = 2
	PolicyTypeForward = 3
	PolicyTypeSNAT    = 4
	PolicyTypeDNAT    = 5
)

// Policy rule actions.
const (
	ActionAccept     = 1
	ActionDeny       = 2
	ActionReject     = 3
	ActionAccounting = 4
)

// Firewall option bits.
const (
	FwOptionStateful = 0x0001
)

// Firewall status bits.
const (
	FwStatusNeedsCompile = 0x0001
)

// Special policy rule markers. Special rules are implied by firewall options
// and regenerated by the repair engine instead of being user-editable.
const (
	PolicySpecialNone     = 0
	PolicySpecialStateful = 1
	PolicySpecialCatchAll = 2
)

// FwCloud is the tenant scope every entity hangs from.
type FwCloud struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Cluster groups firewalls that share a policy.
type Cluster struct {
	ID        int64  `json:"id"`
	FwCloudID int64  `json:"fwcloud"`
	Name      string `json:"name"`
}

// Firewall is a managed firewall node.
type Firewall struct {
	ID          int64         `json:"id"`
	FwCloudID   int64         `json:"fwcloud"`
	ClusterID   sql.NullInt64 `json:"cluster"`
	FwMaster    bool          `json:"fwmaster"`
	Name        string        `json:"name"`
	Options     int           `json:"options"`
	Status      int           `json:"status"`
	IP          sql.NullString `json:"ip"`
	InstallPort int           `json:"install_port"`
}

// Stateful reports whether the stateful-firewall option bit is set.
func (f *Firewall) Stateful() bool {
	return f.Options&FwOptionStateful != 0
}

// Interface is a network interface of a firewall or host.
type Interface struct {
	ID         int64          `json:"id"`
	FirewallID sql.NullInt64  `json:"firewall"`
	Name       string         `json:"name"`
	LabelName  sql.NullString `json:"labelName"`
}

// IPObj is an abstract network or service object.
type IPObj struct {
	ID          int64          `json:"id"`
	FwCloudID   sql.NullInt64  `json:"fwcloud"`
	InterfaceID sql.NullInt64  `json:"interface"`
	Type        int            `json:"type"`
	Name        string         `json:"name"`
	Address     sql.NullString `json:"address"`
	Netmask     sql.NullString `json:"netmask"`
	RangeStart  sql.NullString `json:"range_start"`
	RangeEnd    sql.NullString `json:"range_end"`
	Protocol    sql.NullInt64  `json:"protocol"`
	SrcPortStart sql.NullInt64 `json:"source_port_start"`
	SrcPortEnd   sql.NullInt64 `json:"source_port_end"`
	DstPortStart sql.NullInt64 `json:"destination_port_start"`
	DstPortEnd   sql.NullInt64 `json:"destination_port_end"`
	ICMPType    sql.NullInt64  `json:"icmp_type"`
	ICMPCode    sql.NullInt64  `json:"icmp_code"`
}

// IPObjGroup is a named collection of objects or services.
type IPObjGroup struct {
	ID        int64  `json:"id"`
	FwCloudID int64  `json:"fwcloud"`
	Type      int    `json:"type"`
	Name      string `json:"name"`
}

// Mark is an iptables mark object.
type Mark struct {
	ID        int64  `json:"id"`
	FwCloudID int64  `json:"fwcloud"`
	Code      int    `json:"code"`
	Name      string `json:"name"`
}

// TreeNode is an entry in the hierarchical navigation index.
type TreeNode struct {
	ID        int64         `json:"id"`
	FwCloudID int64         `json:"fwcloud"`
	ParentID  sql.NullInt64 `json:"id_parent"`
	Name      string        `json:"name"`
	NodeType  string        `json:"node_type"`
	NodeOrder int           `json:"node_order"`
	ObjID     sql.NullInt64 `json:"id_obj"`
	ObjType   sql.NullInt64 `json:"obj_type"`
}

// IsRoot reports whether the node is a root node (no parent).
func (n *TreeNode) IsRoot() bool {
	return !n.ParentID.Valid
}
