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

import "strings"

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// Direction is the sort direction of one ordering column.
type Direction int

const (
	Asc Direction = iota
	Desc
)

var _ BaseEnum = Direction(0)

func (d Direction) IsValid() bool { return d == Asc || d == Desc }

func (d Direction) Number() int {
	if !d.IsValid() {
		return IllegalValue
	}
	return int(d)
}

// String returns the SQL keyword.
func (d Direction) String() string {
	switch d {
	case Asc:
		return "ASC"
	case Desc:
		return "DESC"
	default:
		return IllegalName
	}
}

func (d Direction) Name() string { return strings.ToLower(d.String()) }

func (d Direction) Desc() string {
	switch d {
	case Asc:
		return "ascending"
	case Desc:
		return "descending"
	default:
		return IllegalDesc
	}
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// ParseDirection parses "asc"/"desc" case-insensitively.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ASC", "":
		return Asc, true
	case "DESC":
		return Desc, true
	default:
		return Direction(IllegalValue), false
	}
}
