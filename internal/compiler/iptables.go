// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package compiler renders assembled rule data into the configuration
// artifacts shipped to firewalls: the iptables policy script and the
// dhcpd/haproxy/keepalived config files.
package compiler

import (
	"fmt"
	"strings"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/assembler"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/policy"
)

// chains maps policy rule types to their iptables chain and table.
var chains = map[int]struct {
	table string
	chain string
}{
	models.PolicyTypeInput:   {"filter", "INPUT"},
	models.PolicyTypeOutput:  {"filter", "OUTPUT"},
	models.PolicyTypeForward: {"filter", "FORWARD"},
	models.PolicyTypeSNAT:    {"nat", "POSTROUTING"},
	models.PolicyTypeDNAT:    {"nat", "PREROUTING"},
}

var actions = map[int]string{
	models.ActionAccept:     "ACCEPT",
	models.ActionDeny:       "DROP",
	models.ActionReject:     "REJECT",
	models.ActionAccounting: "FWCLOUD_ACC",
}

// CompileRule renders one assembled policy rule into its iptables lines.
// Multi-valued slots expand into one line per combination, except services of
// the same protocol with plain destination ports, which collapse into a
// single multiport match.
func CompileRule(r assembler.RuleData) (string, error) {
	ch, ok := chains[r.Type]
	if !ok {
		return "", errors.Errorf(errors.KindValidation, "unknown policy rule type %d", r.Type)
	}

	target, err := ruleTarget(r)
	if err != nil {
		return "", err
	}

	slots := splitSlots(r.Items)

	srcs, err := addressFragments(slots[policy.PositionSource], "-s", "--src-range")
	if err != nil {
		return "", wrapRuleErr(r.ID, err)
	}
	dsts, err := addressFragments(slots[policy.PositionDestination], "-d", "--dst-range")
	if err != nil {
		return "", wrapRuleErr(r.ID, err)
	}
	svcs, err := serviceFragments(slots[policy.PositionService])
	if err != nil {
		return "", wrapRuleErr(r.ID, err)
	}
	ins := interfaceFragments(slots[policy.PositionIn], "-i")
	outs := interfaceFragments(slots[policy.PositionOut], "-o")
	marks := markFragments(slots[policy.PositionSource])

	var b strings.Builder
	if r.Comment.Valid && r.Comment.String != "" {
		for _, line := range strings.Split(strings.TrimRight(r.Comment.String, "\n"), "\n") {
			b.WriteString("# " + line + "\n")
		}
	}

	prefix := "$IPTABLES -A " + ch.chain
	if ch.table != "filter" {
		prefix = "$IPTABLES -t " + ch.table + " -A " + ch.chain
	}

	stateMatch := ""
	if r.Options&models.FwOptionStateful != 0 {
		stateMatch = "-m state --state NEW"
	}

	for _, in := range orEmpty(ins) {
		for _, out := range orEmpty(outs) {
			for _, src := range orEmpty(srcs) {
				for _, dst := range orEmpty(dsts) {
					for _, svc := range orEmpty(svcs) {
						parts := []string{prefix}
						for _, p := range []string{in, out, src, dst, svc, stateMatch} {
							if p != "" {
								parts = append(parts, p)
							}
						}
						for _, m := range marks {
							parts = append(parts, m)
						}
						parts = append(parts, "-j "+target)
						b.WriteString(strings.Join(parts, " ") + "\n")
					}
				}
			}
		}
	}
	return b.String(), nil
}

// ruleTarget resolves the -j target, including NAT translation arguments.
func ruleTarget(r assembler.RuleData) (string, error) {
	switch r.Type {
	case models.PolicyTypeSNAT:
		return natTarget(r, policy.PositionTranslatedSource, "SNAT --to-source", "MASQUERADE")
	case models.PolicyTypeDNAT:
		return natTarget(r, policy.PositionTranslatedDestination, "DNAT --to-destination", "")
	default:
		t, ok := actions[r.Action]
		if !ok {
			return "", errors.Errorf(errors.KindValidation, "unknown rule action %d", r.Action)
		}
		return t, nil
	}
}

func natTarget(r assembler.RuleData, addrPos int, verb, fallback string) (string, error) {
	slots := splitSlots(r.Items)

	var addr string
	for _, it := range slots[addrPos] {
		if it.Type != models.TypeAddress {
			return "", errors.Errorf(errors.KindValidation,
				"object type %d cannot be a translation address", it.Type)
		}
		addr = it.Address
	}
	if addr == "" {
		if fallback == "" {
			return "", errors.Errorf(errors.KindValidation,
				"rule %d has no translated destination address", r.ID)
		}
		return fallback, nil
	}

	for _, it := range slots[policy.PositionTranslatedService] {
		if it.Type != models.TypeTCP && it.Type != models.TypeUDP {
			return "", errors.Errorf(errors.KindValidation,
				"object type %d cannot be a translation service", it.Type)
		}
		if it.DstPortStart > 0 {
			if it.DstPortEnd > it.DstPortStart {
				addr += fmt.Sprintf(":%d-%d", it.DstPortStart, it.DstPortEnd)
			} else {
				addr += fmt.Sprintf(":%d", it.DstPortStart)
			}
		}
	}
	return verb + " " + addr, nil
}

func splitSlots(items []assembler.Item) map[int][]assembler.Item {
	slots := make(map[int][]assembler.Item)
	for _, it := range items {
		slots[it.Position] = append(slots[it.Position], it)
	}
	return slots
}

// addressFragments renders address-kind items. flag is -s or -d; rangeFlag is
// the iprange variant for address-range objects.
func addressFragments(items []assembler.Item, flag, rangeFlag string) ([]string, error) {
	var out []string
	for _, it := range items {
		neg := ""
		if it.Negate {
			neg = "! "
		}
		switch it.Type {
		case models.TypeAddress:
			out = append(out, fmt.Sprintf("%s%s %s", neg, flag, it.Address))
		case models.TypeNetwork:
			out = append(out, fmt.Sprintf("%s%s %s/%s", neg, flag, it.Address, it.Netmask))
		case models.TypeAddressRange:
			out = append(out, fmt.Sprintf("-m iprange %s%s %s-%s", neg, rangeFlag, it.RangeStart, it.RangeEnd))
		case models.TypeMark:
			// Marks are collected separately; they are not an address match.
		default:
			return nil, errors.Errorf(errors.KindValidation,
				"object type %d cannot be rendered in an address slot", it.Type)
		}
	}
	return out, nil
}

// serviceFragments renders service items. TCP and UDP items carrying only
// destination ports collapse into one multiport match per protocol.
func serviceFragments(items []assembler.Item) ([]string, error) {
	var (
		out       []string
		tcpPorts  []string
		udpPorts  []string
	)

	for _, it := range items {
		neg := ""
		if it.Negate {
			neg = "! "
		}
		switch it.Type {
		case models.TypeTCP, models.TypeUDP:
			proto := "tcp"
			if it.Type == models.TypeUDP {
				proto = "udp"
			}
			// Plain destination-port services aggregate into multiport.
			if it.SrcPortStart == 0 && !it.Negate {
				p := fmt.Sprintf("%d", it.DstPortStart)
				if it.DstPortEnd > it.DstPortStart {
					p = fmt.Sprintf("%d:%d", it.DstPortStart, it.DstPortEnd)
				}
				if proto == "tcp" {
					tcpPorts = append(tcpPorts, p)
				} else {
					udpPorts = append(udpPorts, p)
				}
				continue
			}
			frag := "-p " + proto
			if it.SrcPortStart > 0 {
				if it.SrcPortEnd > it.SrcPortStart {
					frag += fmt.Sprintf(" %s--sport %d:%d", neg, it.SrcPortStart, it.SrcPortEnd)
				} else {
					frag += fmt.Sprintf(" %s--sport %d", neg, it.SrcPortStart)
				}
			}
			if it.DstPortStart > 0 {
				if it.DstPortEnd > it.DstPortStart {
					frag += fmt.Sprintf(" %s--dport %d:%d", neg, it.DstPortStart, it.DstPortEnd)
				} else {
					frag += fmt.Sprintf(" %s--dport %d", neg, it.DstPortStart)
				}
			}
			out = append(out, frag)

		case models.TypeICMP:
			frag := "-p icmp"
			if it.ICMPType >= 0 {
				icmp := fmt.Sprintf("%d", it.ICMPType)
				if it.ICMPCode >= 0 {
					icmp += fmt.Sprintf("/%d", it.ICMPCode)
				}
				frag += fmt.Sprintf(" -m icmp %s--icmp-type %s", neg, icmp)
			}
			out = append(out, frag)

		case models.TypeIP:
			out = append(out, fmt.Sprintf("%s-p %d", neg, it.Protocol))

		default:
			return nil, errors.Errorf(errors.KindValidation,
				"object type %d cannot be rendered in a service slot", it.Type)
		}
	}

	if len(tcpPorts) == 1 && !strings.Contains(tcpPorts[0], ":") {
		out = append(out, "-p tcp --dport "+tcpPorts[0])
	} else if len(tcpPorts) > 0 {
		out = append(out, "-p tcp -m multiport --dports "+strings.Join(tcpPorts, ","))
	}
	if len(udpPorts) == 1 && !strings.Contains(udpPorts[0], ":") {
		out = append(out, "-p udp --dport "+udpPorts[0])
	} else if len(udpPorts) > 0 {
		out = append(out, "-p udp -m multiport --dports "+strings.Join(udpPorts, ","))
	}
	return out, nil
}

func interfaceFragments(items []assembler.Item, flag string) []string {
	var out []string
	for _, it := range items {
		neg := ""
		if it.Negate {
			neg = "! "
		}
		out = append(out, fmt.Sprintf("%s%s %s", neg, flag, it.IfName))
	}
	return out
}

func markFragments(items []assembler.Item) []string {
	var out []string
	for _, it := range items {
		if it.Type == models.TypeMark {
			out = append(out, fmt.Sprintf("-m mark --mark %d", it.MarkCode))
		}
	}
	return out
}

// orEmpty lets the combination loops run once for absent slots.
func orEmpty(frags []string) []string {
	if len(frags) == 0 {
		return []string{""}
	}
	return frags
}

func wrapRuleErr(id int64, err error) error {
	return errors.Wrapf(err, errors.GetKind(err), "rule %d", id)
}
