// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// Tier is a set of URL validation tiers. Tiers are evaluated in the fixed
// order Structure, DNS, HTTP regardless of how the set was built.
type Tier uint8

const (
	TierStructure Tier = 1 << iota
	TierDNS
	TierHTTP
)

// TierAll requests every tier.
const TierAll = TierStructure | TierDNS | TierHTTP

// Has reports whether t includes every tier in other.
func (t Tier) Has(other Tier) bool {
	return t&other == other
}

// Normalize returns t with the Structure tier added. Structure is what
// yields the cleaned host, so every request implicitly includes it.
func (t Tier) Normalize() Tier {
	return t | TierStructure
}

// String returns the comma-separated tier names, e.g. "structure,dns".
func (t Tier) String() string {
	var names []string
	if t.Has(TierStructure) {
		names = append(names, "structure")
	}
	if t.Has(TierDNS) {
		names = append(names, "dns")
	}
	if t.Has(TierHTTP) {
		names = append(names, "http")
	}
	return strings.Join(names, ",")
}

// ParseTiers parses a comma-separated list of tier names. An empty string
// yields TierStructure.
func ParseTiers(s string) (Tier, error) {
	var t Tier
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "structure":
			t |= TierStructure
		case "dns":
			t |= TierDNS
		case "http":
			t |= TierHTTP
		default:
			return 0, fmt.Errorf("unknown validation tier %q: use structure, dns, or http", part)
		}
	}
	return t.Normalize(), nil
}

// ValidationResult is the outcome of validating one URL. Tiers that were not
// requested, or were skipped by short-circuit, stay false.
type ValidationResult struct {
	OriginalInput  string `json:"original_input" yaml:"original_input"`
	StructureValid bool   `json:"structure_valid" yaml:"structure_valid"`
	DNSValid       bool   `json:"dns_valid" yaml:"dns_valid"`
	HTTPValid      bool   `json:"http_valid" yaml:"http_valid"`
	CleanedHost    string `json:"cleaned_host,omitempty" yaml:"cleaned_host,omitempty"`
	Reason         string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Requested records which tiers the caller asked for.
	Requested Tier `json:"requested" yaml:"requested"`
}

// IsValid derives overall validity from exactly the requested tiers.
func (r ValidationResult) IsValid() bool {
	req := r.Requested.Normalize()
	if !r.StructureValid {
		return false
	}
	if req.Has(TierDNS) && !r.DNSValid {
		return false
	}
	if req.Has(TierHTTP) && !r.HTTPValid {
		return false
	}
	return true
}
