// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the customer-engine pipeline.
// Covers candidate records produced by sources, validation outcomes, result
// records returned to callers, job state, and configuration.
package types

import "strings"

// CandidateRecord is an unvalidated mention of a possible customer produced by
// a source collaborator or by the analysis fallback. Records are treated as
// immutable once produced.
type CandidateRecord struct {
	// Name is the candidate company name as the source saw it.
	Name string `json:"name" yaml:"name"`

	// RawURL is the URL or bare domain the source attached, if any.
	RawURL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Source identifies the collaborator that produced the record (e.g. "vendor_site").
	Source string `json:"source" yaml:"source"`

	// Confidence is an optional score in [0,1]. Nil when the source does not rank.
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Key returns the normalized name used for deduplication: trimmed and lower-cased.
func (c CandidateRecord) Key() string {
	return NormalizeName(c.Name)
}

// ConfidenceOrZero returns the confidence score, treating a missing score as 0.
func (c CandidateRecord) ConfidenceOrZero() float64 {
	if c.Confidence == nil {
		return 0
	}
	return *c.Confidence
}

// NormalizeName returns the case-insensitive comparison key for a name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Confidence returns a pointer to v, clamped to [0,1], for use in CandidateRecord literals.
func Confidence(v float64) *float64 {
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return &v
}

// ResultRecord is the final unit returned to the caller. It never names the
// subject itself and never carries a URL that failed the pipeline's required
// validation tiers.
type ResultRecord struct {
	SubjectName   string           `json:"subject_name" yaml:"subject_name"`
	CandidateName string           `json:"candidate_name" yaml:"candidate_name"`
	CandidateURL  string           `json:"candidate_url" yaml:"candidate_url"`
	Validation    ValidationResult `json:"validation" yaml:"validation"`
	Source        string           `json:"source" yaml:"source"`

	// Confidence carries through the score of the record that won the merge, if any.
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`

	// Reason is the analysis service's explanation, if it gave one.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}
