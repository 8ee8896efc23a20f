/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error returned by quarry that belongs to one of these
// categories matches it with errors.Is.
var (
	// ErrSchema is returned when a query references a column or entity that
	// does not exist on the bound entity.
	ErrSchema = errors.New("quarry: schema error")

	// ErrUnsupportedOperation is returned when an operation needs a dialect
	// capability the bound session lacks.
	ErrUnsupportedOperation = errors.New("quarry: unsupported operation")

	// ErrEntityNotFound is returned when exactly one row was expected and none was found.
	ErrEntityNotFound = errors.New("quarry: entity not found")

	// ErrState is returned on unit of work misuse.
	ErrState = errors.New("quarry: invalid state")

	// ErrInvalidPageToken is returned when a page token cannot be decoded or
	// was produced for a different ordering. It also matches ErrSchema.
	ErrInvalidPageToken = &SchemaError{Reason: "invalid page token"}
)

// SchemaError describes an invalid column or entity reference.
type SchemaError struct {
	Entity string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Column != "" && e.Entity != "":
		return fmt.Sprintf("%s: %s: column %q on %q", ErrSchema, e.Reason, e.Column, e.Entity)
	case e.Entity != "":
		return fmt.Sprintf("%s: %s: %q", ErrSchema, e.Reason, e.Entity)
	default:
		return fmt.Sprintf("%s: %s", ErrSchema, e.Reason)
	}
}

func (e *SchemaError) Is(target error) bool {
	if target == ErrSchema {
		return true
	}
	if target == ErrInvalidPageToken {
		return e.Reason == ErrInvalidPageToken.Reason
	}
	return false
}

// NewSchemaError returns a SchemaError for column on entity.
func NewSchemaError(entity, column, reason string) error {
	return &SchemaError{Entity: entity, Column: column, Reason: reason}
}

// InvalidPageToken returns an error matching ErrInvalidPageToken with detail.
func InvalidPageToken(format string, args ...interface{}) error {
	return &pageTokenError{detail: fmt.Sprintf(format, args...)}
}

type pageTokenError struct {
	detail string
}

func (e *pageTokenError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPageToken, e.detail)
}

func (e *pageTokenError) Is(target error) bool {
	return target == ErrInvalidPageToken || target == ErrSchema
}

// UnsupportedOperationError names the operation and the missing capability.
type UnsupportedOperationError struct {
	Operation  string
	Capability string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: %s requires %s", ErrUnsupportedOperation, e.Operation, e.Capability)
}

func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupportedOperation }

// EntityNotFoundError is returned by One-style terminals.
type EntityNotFoundError struct {
	Entity string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrEntityNotFound, e.Entity)
}

func (e *EntityNotFoundError) Is(target error) bool { return target == ErrEntityNotFound }

// StateError describes unit of work misuse.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrState, e.Reason)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

func IsSchemaError(err error) bool { return errors.Is(err, ErrSchema) }
func IsUnsupported(err error) bool { return errors.Is(err, ErrUnsupportedOperation) }
func IsNotFound(err error) bool { return errors.Is(err, ErrEntityNotFound) }
func IsStateError(err error) bool { return errors.Is(err, ErrState) }
func IsInvalidPageToken(err error) bool { return errors.Is(err, ErrInvalidPageToken) }
