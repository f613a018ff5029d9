// Copyright 2025 Parentheses Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package artifact

import "fmt"

// Status is the review state of an artifact
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusUnderReview
	StatusAccepted
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUnderReview:
		return "under_review"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// StatusFromString parses the string form used in the metadata store
func StatusFromString(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "under_review":
		return StatusUnderReview, nil
	case "accepted":
		return StatusAccepted, nil
	case "rejected":
		return StatusRejected, nil
	}
	return StatusUnknown, fmt.Errorf("unknown artifact status: %q", s)
}

// Terminal reports whether no further transitions are allowed from a status
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// validTransition reports whether moving between the two statuses is legal.
// The only legal moves are pending to under_review, under_review to either
// terminal status, and under_review back to pending when a round aborts.
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusUnderReview
	case StatusUnderReview:
		return to == StatusAccepted ||
			to == StatusRejected ||
			to == StatusPending
	}
	return false
}

// StatusWriter is the capability handle for changing artifact status. Only
// the consensus engine is handed one, keeping review outcomes out of reach
// of API surfaces that hold the plain Registry.
type StatusWriter struct {
	registry *Registry
}

// NewStatusWriter returns the status capability for a registry
func NewStatusWriter(registry *Registry) *StatusWriter {
	return &StatusWriter{registry: registry}
}

// MarkUnderReview moves a pending artifact into review
func (w *StatusWriter) MarkUnderReview(id ArtifactID) error {
	return w.registry.transition(id, StatusUnderReview)
}

// Finalize records the review outcome for an artifact under review
func (w *StatusWriter) Finalize(id ArtifactID, accepted bool) error {
	to := StatusRejected
	if accepted {
		to = StatusAccepted
	}
	return w.registry.transition(id, to)
}

// Revert returns an artifact under review to the pending state so it can be
// re-queued after an aborted round
func (w *StatusWriter) Revert(id ArtifactID) error {
	return w.registry.transition(id, StatusPending)
}
