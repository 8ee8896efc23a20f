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

package query

import (
	"slices"
	"strings"

	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
)

// OnConflict is the conflict target of an upsert: the columns identifying a
// row, the columns overwritten when the row exists and an optional
// predicate selecting a partial unique index.
type OnConflict struct {
	IndexElements []string
	Set           []string
	IndexWhere    string
}

func (c OnConflict) clone() OnConflict {
	return OnConflict{
		IndexElements: slices.Clone(c.IndexElements),
		Set:           slices.Clone(c.Set),
		IndexWhere:    c.IndexWhere,
	}
}

// applyConflict appends the conflict clause to q. An empty set means the
// conflicting row is left untouched.
func applyConflict(q *bun.InsertQuery, e *Entity, target OnConflict, set []string, caps database.Capabilities) (*bun.InsertQuery, error) {
	switch {
	case caps.OnConflict:
		idx := make([]string, len(target.IndexElements))
		for i, c := range target.IndexElements {
			idx[i] = e.sqlName(c)
		}
		clause := "CONFLICT (" + strings.Join(idx, ", ") + ")"
		if target.IndexWhere != "" {
			clause += " WHERE " + target.IndexWhere
		}
		if len(set) == 0 {
			return q.On(clause + " DO NOTHING"), nil
		}
		q = q.On(clause + " DO UPDATE")
		assignments := make([]string, len(set))
		for i, c := range set {
			name := e.sqlName(c)
			assignments[i] = name + " = EXCLUDED." + name
		}
		return q.Set(strings.Join(assignments, ", ")), nil

	case caps.OnDuplicateKey:
		if len(set) == 0 {
			// self assignment leaves the existing row unchanged
			pk := e.sqlName(e.pks[0])
			return q.On("DUPLICATE KEY UPDATE " + pk + " = " + pk), nil
		}
		assignments := make([]string, len(set))
		for i, c := range set {
			name := e.sqlName(c)
			assignments[i] = name + " = VALUES(" + name + ")"
		}
		return q.On("DUPLICATE KEY UPDATE " + strings.Join(assignments, ", ")), nil

	default:
		return nil, &types.UnsupportedOperationError{Operation: "upsert", Capability: "supports_on_conflict"}
	}
}
