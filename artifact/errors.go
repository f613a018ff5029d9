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

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when looking up an unknown artifact ID
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidSubmitter is returned for a submission without a submitter identity
	ErrInvalidSubmitter = errors.New("submitter identity required")

	// ErrInvalidDomain is returned for a submission without a knowledge domain
	ErrInvalidDomain = errors.New("knowledge domain required")

	// ErrInvalidVersion is returned when the version is not plain x.y.z semver
	ErrInvalidVersion = errors.New("version must be x.y.z semver")

	// ErrInvalidPayload is returned for an empty payload
	ErrInvalidPayload = errors.New("payload must not be empty")

	// ErrInvalidRelation is returned for an unknown parent relation kind
	ErrInvalidRelation = errors.New("unknown parent relation")

	// ErrDuplicateParent is returned when a submission declares the same parent twice
	ErrDuplicateParent = errors.New("duplicate parent declaration")
)

// PayloadTooLargeError is returned when a payload exceeds the configured cap
type PayloadTooLargeError struct {
	Size  uint64
	Limit uint64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf(
		"payload too large: %d bytes exceeds limit of %d bytes",
		e.Size,
		e.Limit,
	)
}

// IllegalTransitionError is returned for a status change the lifecycle does
// not allow
type IllegalTransitionError struct {
	ID   ArtifactID
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf(
		"illegal status transition for artifact %s: %s -> %s",
		e.ID,
		e.From,
		e.To,
	)
}
