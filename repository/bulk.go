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

package repository

import (
	"context"
	"slices"

	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/types"
)

// BulkCreate inserts rows in one statement. Every row must have the same
// columns. With RETURNING the stored rows are returned, otherwise the models
// built from rows with generated keys where the driver reports them.
func (r *Repository[T]) BulkCreate(ctx context.Context, rows []query.Values) ([]*T, error) {
	if len(rows) == 0 {
		return []*T{}, nil
	}
	items, _, err := r.insert(ctx, query.New(r.entity).Insert(rows).Returning())
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Created entities", "entity", r.entity.Name(), "rows", len(items))
	return items, nil
}

// BulkCreateOrUpdate upserts rows in one statement and returns the stored
// rows. Without set the conflict target's set columns are overwritten.
func (r *Repository[T]) BulkCreateOrUpdate(ctx context.Context, rows []query.Values, set ...string) ([]*T, error) {
	if len(rows) == 0 {
		return []*T{}, nil
	}
	d := query.New(r.entity).Upsert(rows, set...).Returning()
	items, _, err := r.insert(ctx, d)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Upserted entities", "entity", r.entity.Name(), "rows", len(rows))
	if r.caps.Returning && len(items) == len(rows) {
		return items, nil
	}

	target := d.ConflictTarget()
	matches := make([]query.Condition, len(rows))
	for i, row := range rows {
		match, err := r.identify(target, row)
		if err != nil {
			return nil, err
		}
		matches[i] = query.And(match.Conditions()...)
	}
	return r.Reset().Filter(query.Or(matches...)).All(ctx)
}

// BulkUpdate updates one row per element of rows. The columns named by on
// identify the row and must be present in every element; the remaining
// columns are assigned. conds further restrict the rows that may change.
// All updates run in one transaction and the total of affected rows is
// returned.
func (r *Repository[T]) BulkUpdate(ctx context.Context, rows []query.Values, on []string, conds ...query.Condition) (int64, error) {
	if len(on) == 0 {
		return 0, types.NewSchemaError(r.entity.Name(), "", "bulk update needs key columns")
	}
	for _, c := range on {
		if !r.entity.HasColumn(c) {
			return 0, types.NewSchemaError(r.entity.Name(), c, "unknown column")
		}
	}

	var total int64
	err := r.RunInTx(ctx, func(ctx context.Context, tx *Repository[T]) error {
		for _, row := range rows {
			match := make(query.Values, len(on))
			set := make(query.Values, len(row))
			for k, v := range row {
				if slices.Contains(on, k) {
					match[k] = v
				} else {
					set[k] = v
				}
			}
			if len(match) != len(on) {
				return types.NewSchemaError(r.entity.Name(), "", "bulk update row lacks a key column")
			}
			if len(set) == 0 {
				continue
			}
			n, err := tx.Reset().Filter(conds...).FilterBy(match).Update(set).Exec(ctx)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Debug("Updated entities", "entity", r.entity.Name(), "rows", total)
	return total, nil
}
