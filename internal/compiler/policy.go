// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package compiler

import (
	"sort"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/assembler"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
)

// RuleResult is the compilation outcome of one rule. A disabled rule in a
// multi-rule batch yields an empty CS; a rule that failed to render carries
// its error and an empty CS, without failing the batch.
type RuleResult struct {
	ID      int64  `json:"id"`
	Active  bool   `json:"active"`
	Comment string `json:"comment,omitempty"`
	CS      string `json:"cs"`
	Err     string `json:"error,omitempty"`
}

// PolicyCompiler turns assembled policy rules into iptables script text.
type PolicyCompiler struct {
	logger *logging.Logger
}

// NewPolicyCompiler creates a policy compiler.
func NewPolicyCompiler(logger *logging.Logger) *PolicyCompiler {
	return &PolicyCompiler{logger: logger.WithComponent("policy-compiler")}
}

// Compile renders a batch of assembled rules, one result per rule, grouped by
// table type in INPUT, OUTPUT, FORWARD, SNAT, DNAT sequence regardless of the
// input order. A disabled rule renders empty unless it is the only rule in
// the batch, so a single-rule preview still shows its text. Per-rule render
// failures are isolated into the result; sink receives one progress line per
// rule.
func (c *PolicyCompiler) Compile(rulesData []assembler.RuleData, sink events.Sink) []RuleResult {
	sorted := make([]assembler.RuleData, len(rulesData))
	copy(sorted, rulesData)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].RuleOrder < sorted[j].RuleOrder
	})

	results := make([]RuleResult, 0, len(sorted))
	for i, rd := range sorted {
		emitProgress(sink, i, rd.ID, rd.Active)

		res := RuleResult{ID: rd.ID, Active: rd.Active, Comment: rd.Comment.String}
		if rd.Active || len(sorted) == 1 {
			cs, err := CompileRule(rd)
			if err != nil {
				c.logger.Error("rule compilation failed", "rule", rd.ID, "error", err)
				res.Err = err.Error()
			} else {
				res.CS = cs
			}
		}
		results = append(results, res)
	}
	return results
}
