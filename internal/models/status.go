package models

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// UploadStatus is the lifecycle state of an UploadArtifact
type UploadStatus string

const (
	StatusParsing   UploadStatus = "parsing"
	StatusReview    UploadStatus = "review"
	StatusMapping   UploadStatus = "mapping"
	StatusReady     UploadStatus = "ready"
	StatusFinalized UploadStatus = "finalized"
	StatusFailed    UploadStatus = "failed"
	StatusRejected  UploadStatus = "rejected"
)

// transitions lists, for every status, the statuses it may move to.
// Terminal statuses have no entry.
var transitions = map[UploadStatus][]UploadStatus{
	StatusParsing: {StatusReview, StatusFailed, StatusRejected},
	StatusReview:  {StatusMapping, StatusRejected},
	StatusMapping: {StatusReady, StatusFinalized, StatusRejected},
	StatusReady:   {StatusFinalized, StatusRejected},
}

// FinalizableStatuses are the statuses finalize may start from
var FinalizableStatuses = []UploadStatus{StatusMapping, StatusReady}

// ReviewableStatuses are the statuses in which reviewers may record artist mappings
var ReviewableStatuses = []UploadStatus{StatusReview, StatusMapping, StatusReady}

// AllStatuses returns every known status in lifecycle order
func AllStatuses() []UploadStatus {
	return []UploadStatus{
		StatusParsing, StatusReview, StatusMapping, StatusReady,
		StatusFinalized, StatusFailed, StatusRejected,
	}
}

// ParseStatus converts a string into a known UploadStatus
func ParseStatus(s string) (UploadStatus, error) {
	for _, st := range AllStatuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown upload status %q", s)
}

// IsTerminal reports whether no further transition is possible
func (s UploadStatus) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether moving from s to next is allowed
func (s UploadStatus) CanTransition(next UploadStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// In reports whether s is one of the given statuses
func (s UploadStatus) In(statuses ...UploadStatus) bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Strings converts a status list for use in SQL IN clauses
func Strings(statuses []UploadStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Transition moves the upload to next when the transition table allows it
func (u *UploadArtifact) Transition(next UploadStatus) error {
	if !u.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s", u.Status, next)
	}
	u.Status = next
	return nil
}

// NormalizeName produces the case-insensitive lookup key for an artist name
func NormalizeName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
