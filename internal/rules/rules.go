// Package rules implements the bounce classification rule set: four ordered
// pattern lists matched case-insensitively against the diagnostic text of a
// bounce notification. Accounts may override the built-in defaults per
// domain; an override replaces the defaults wholesale for that domain.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/deliverability-guard/internal/domain"
)

// RuleSet holds the pattern lists for each classification category. A
// RuleSet is immutable once loaded for a classification pass.
type RuleSet struct {
	Hard  []string `json:"hard"`
	Soft  []string `json:"soft"`
	Spam  []string `json:"spam"`
	Block []string `json:"block"`
}

// Default returns the built-in rule set used when a domain has no override.
func Default() RuleSet {
	return RuleSet{
		Hard: []string{
			"user not found", "mailbox not found", "no such user",
			"address not found", "recipient not found", "invalid recipient",
			"does not exist", "unknown user", "user unknown",
		},
		Soft: []string{
			"mailbox full", "quota exceeded", "temporarily unavailable",
			"try again later", "temporary failure", "over quota", "disk full",
		},
		Spam: []string{
			"spam", "blocked", "rejected", "filtered", "quarantine",
		},
		Block: []string{
			"blocked", "rejected", "not allowed", "forbidden", "denied",
		},
	}
}

// ForDomain returns the domain's override rule set if one is stored on the
// domain row, otherwise the built-in defaults. An override that fails to
// parse falls back to the defaults rather than silently dropping bounces.
func ForDomain(d domain.SendingDomain) (RuleSet, error) {
	if len(d.RuleOverridesJSON) == 0 {
		return Default(), nil
	}
	var rs RuleSet
	if err := json.Unmarshal(d.RuleOverridesJSON, &rs); err != nil {
		return Default(), fmt.Errorf("parse rule overrides for domain %s: %w", d.ID, err)
	}
	if rs.empty() {
		return Default(), nil
	}
	return rs, nil
}

func (rs RuleSet) empty() bool {
	return len(rs.Hard) == 0 && len(rs.Soft) == 0 && len(rs.Spam) == 0 && len(rs.Block) == 0
}

// Classify assigns a category to the diagnostic text. Categories are tested
// in fixed precedence order — block, spam, hard, soft — and the first list
// with a matching pattern wins. Text matching nothing is tagged unknown, not
// dropped.
func (rs RuleSet) Classify(diagnostic string) domain.BounceCategory {
	text := strings.ToLower(diagnostic)
	switch {
	case matchAny(text, rs.Block):
		return domain.BounceBlock
	case matchAny(text, rs.Spam):
		return domain.BounceSpam
	case matchAny(text, rs.Hard):
		return domain.BounceHard
	case matchAny(text, rs.Soft):
		return domain.BounceSoft
	default:
		return domain.BounceUnknown
	}
}

func matchAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
