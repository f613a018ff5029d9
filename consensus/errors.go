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

package consensus

import (
	"errors"
	"fmt"
)

var (
	// ErrRoundNotFound is returned when operating on an unknown round
	ErrRoundNotFound = errors.New("consensus round not found")

	// ErrUnauthorizedVoter is returned for votes from validators not
	// sampled into the round
	ErrUnauthorizedVoter = errors.New("validator not selected for round")

	// ErrDuplicateVote is returned for a second vote from the same
	// validator in the same round
	ErrDuplicateVote = errors.New("validator already voted in round")

	// ErrRoundExpired is returned for votes after the round deadline or
	// after the round has closed
	ErrRoundExpired = errors.New("round no longer accepting votes")

	// ErrInvalidScore is returned for a vote score outside [0, 1]
	ErrInvalidScore = errors.New("vote score must be within [0, 1]")

	// ErrRoundClosed is returned when aborting a round that already
	// finalized
	ErrRoundClosed = errors.New("round already finalized")
)

// InsufficientValidatorsError is returned when too few eligible validators
// exist to open a round
type InsufficientValidatorsError struct {
	Available int
	Required  int
}

func (e *InsufficientValidatorsError) Error() string {
	return fmt.Sprintf(
		"insufficient validators: %d available, %d required",
		e.Available,
		e.Required,
	)
}

// QuorumNotMetError is returned when finalizing a round that has not yet
// collected enough votes
type QuorumNotMetError struct {
	Votes    int
	Required int
}

func (e *QuorumNotMetError) Error() string {
	return fmt.Sprintf(
		"quorum not met: %d votes collected, %d required",
		e.Votes,
		e.Required,
	)
}
