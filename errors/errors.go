// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")

	ErrInvalidSubject       = invalid("subject must not be blank")
	ErrInvalidVersion       = invalid("version must be positive")
	ErrInvalidKey           = invalid("invalid metadata key")
	ErrInvalidValue         = invalid("metadata value must not be nil")
	ErrUnknownKeyKind       = invalid("unknown metadata key kind")
	ErrKeySubjectMismatch   = invalid("key subject does not match container subject")
	ErrAttributeKeyReserved = invalid("attribute key collides with derived attribute keys")
	ErrInvalidAttribute     = invalid("attribute value is not serializable")
	ErrKeyNotFound          = invalid("metadata key does not exist")
	ErrEmptyBatch           = invalid("batch update is empty")

	ErrNotFound = errors.New("metadata not found")

	ErrPersistence = errors.New("metadata log persistence failed")

	ErrStoreNotRunning     = errors.New("metadata store is not running")
	ErrStoreAlreadyStarted = errors.New("metadata store is already started")
	ErrCatchUpTimeout      = errors.New("metadata log catch up timeout")
	ErrWriteLimited        = errors.New("metadata write limit exceeded")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

// IsInvalidArgument reports whether err belongs to the client error family.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// Persistence marks err as a log failure, keeping the original cause reachable.
func Persistence(err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
