// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package compiler

import (
	"fmt"
	"strings"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/assembler"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
)

// ServiceSegment is one rendered config stanza, one per rule. Disabled rules
// in multi-rule batches yield an empty CS, like policy rules.
type ServiceSegment struct {
	ID     int64  `json:"id"`
	Active bool   `json:"active"`
	CS     string `json:"cs"`
	Err    string `json:"error,omitempty"`
}

// CompileDHCP renders dhcp rules into dhcpd.conf subnet declarations.
func CompileDHCP(rules []assembler.DHCPRuleData, sink events.Sink) []ServiceSegment {
	out := make([]ServiceSegment, 0, len(rules))
	for i, r := range rules {
		emitProgress(sink, i, r.ID, r.Active)

		seg := ServiceSegment{ID: r.ID, Active: r.Active}
		if r.Active || len(rules) == 1 {
			cs, err := compileDHCPRule(r)
			if err != nil {
				seg.Err = err.Error()
			} else {
				seg.CS = cs
			}
		}
		out = append(out, seg)
	}
	return out
}

func compileDHCPRule(r assembler.DHCPRuleData) (string, error) {
	if r.NetworkAddress == "" || r.NetworkNetmask == "" {
		return "", errors.Errorf(errors.KindValidation, "dhcp rule %d has no network", r.ID)
	}

	var b strings.Builder
	if r.Comment.Valid && r.Comment.String != "" {
		b.WriteString("# " + r.Comment.String + "\n")
	}
	fmt.Fprintf(&b, "subnet %s netmask %s {\n", r.NetworkAddress, r.NetworkNetmask)
	if r.RangeStart != "" && r.RangeEnd != "" {
		fmt.Fprintf(&b, "  range %s %s;\n", r.RangeStart, r.RangeEnd)
	}
	if r.RouterAddress != "" {
		fmt.Fprintf(&b, "  option routers %s;\n", r.RouterAddress)
	}
	fmt.Fprintf(&b, "  max-lease-time %d;\n", r.MaxLease)
	b.WriteString("}\n")
	return b.String(), nil
}

// CompileHAProxy renders haproxy rules into listen blocks.
func CompileHAProxy(rules []assembler.HAProxyRuleData, sink events.Sink) []ServiceSegment {
	out := make([]ServiceSegment, 0, len(rules))
	for i, r := range rules {
		emitProgress(sink, i, r.ID, r.Active)

		seg := ServiceSegment{ID: r.ID, Active: r.Active}
		if r.Active || len(rules) == 1 {
			cs, err := compileHAProxyRule(r)
			if err != nil {
				seg.Err = err.Error()
			} else {
				seg.CS = cs
			}
		}
		out = append(out, seg)
	}
	return out
}

func compileHAProxyRule(r assembler.HAProxyRuleData) (string, error) {
	if r.FrontendAddress == "" || r.FrontendPort == 0 {
		return "", errors.Errorf(errors.KindValidation, "haproxy rule %d has no frontend", r.ID)
	}
	if r.BackendAddress == "" || r.BackendPort == 0 {
		return "", errors.Errorf(errors.KindValidation, "haproxy rule %d has no backend", r.ID)
	}

	var b strings.Builder
	if r.Comment.Valid && r.Comment.String != "" {
		b.WriteString("# " + r.Comment.String + "\n")
	}
	fmt.Fprintf(&b, "listen rule_%d\n", r.ID)
	fmt.Fprintf(&b, "  bind %s:%d\n", r.FrontendAddress, r.FrontendPort)
	if r.Style.Valid && r.Style.String != "" {
		fmt.Fprintf(&b, "  mode %s\n", r.Style.String)
	}
	fmt.Fprintf(&b, "  server backend_%d %s:%d\n", r.ID, r.BackendAddress, r.BackendPort)
	return b.String(), nil
}

// CompileKeepalived renders keepalived rules into vrrp_instance blocks.
func CompileKeepalived(rules []assembler.KeepalivedRuleData, sink events.Sink) []ServiceSegment {
	out := make([]ServiceSegment, 0, len(rules))
	for i, r := range rules {
		emitProgress(sink, i, r.ID, r.Active)

		seg := ServiceSegment{ID: r.ID, Active: r.Active}
		if r.Active || len(rules) == 1 {
			cs, err := compileKeepalivedRule(r)
			if err != nil {
				seg.Err = err.Error()
			} else {
				seg.CS = cs
			}
		}
		out = append(out, seg)
	}
	return out
}

func compileKeepalivedRule(r assembler.KeepalivedRuleData) (string, error) {
	if r.InterfaceName == "" || r.VirtualIPAddress == "" {
		return "", errors.Errorf(errors.KindValidation,
			"keepalived rule %d has no interface or virtual ip", r.ID)
	}

	state := "BACKUP"
	if r.MasterNodeID.Valid && r.MasterNodeID.Int64 == r.FirewallID {
		state = "MASTER"
	}

	var b strings.Builder
	if r.Comment.Valid && r.Comment.String != "" {
		b.WriteString("# " + r.Comment.String + "\n")
	}
	fmt.Fprintf(&b, "vrrp_instance VI_%d {\n", r.ID)
	fmt.Fprintf(&b, "  state %s\n", state)
	fmt.Fprintf(&b, "  interface %s\n", r.InterfaceName)
	fmt.Fprintf(&b, "  virtual_router_id %d\n", r.RuleOrder)
	b.WriteString("  virtual_ipaddress {\n")
	fmt.Fprintf(&b, "    %s\n", r.VirtualIPAddress)
	b.WriteString("  }\n}\n")
	return b.String(), nil
}

// ConcatSegments joins the non-empty segments into the final artifact text.
func ConcatSegments(segments []ServiceSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		if seg.CS != "" {
			b.WriteString(seg.CS)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func emitProgress(sink events.Sink, idx int, id int64, active bool) {
	if sink == nil {
		return
	}
	marker := ""
	if !active {
		marker = " [DISABLED]"
	}
	sink.Progress(id, fmt.Sprintf("Rule %d (ID: %d)%s", idx+1, id, marker), !active)
}
