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
	"database/sql"
	"fmt"
	"reflect"

	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
)

// Get returns the entity with the given primary key values, in primary key
// column order. A missing row is an EntityNotFoundError.
func (r *Repository[T]) Get(ctx context.Context, pk ...any) (*T, error) {
	cols := r.entity.PrimaryKey()
	if len(pk) != len(cols) {
		return nil, types.NewSchemaError(r.entity.Name(), "",
			fmt.Sprintf("primary key has %d columns, got %d values", len(cols), len(pk)))
	}
	match := make(query.Values, len(cols))
	for i, c := range cols {
		match[c] = pk[i]
	}
	return r.Reset().FilterBy(match).One(ctx)
}

// List returns the rows of the query narrowed by conds.
func (r *Repository[T]) List(ctx context.Context, conds ...query.Condition) ([]*T, error) {
	return r.Filter(conds...).All(ctx)
}

// Create inserts one row and returns it as stored, database defaults included.
func (r *Repository[T]) Create(ctx context.Context, values query.Values) (*T, error) {
	items, _, err := r.insert(ctx, query.New(r.entity).Insert([]query.Values{values}).Returning())
	if err != nil {
		return nil, err
	}
	item := items[0]
	if !r.caps.Returning {
		if item, err = r.reload(ctx, item, values); err != nil {
			return nil, err
		}
	}
	r.logger.Debug("Created entity", "entity", r.entity.Name())
	return item, nil
}

// CreateOrUpdate inserts values or, when a row with the same conflict target
// exists, overwrites its set columns. The stored row is returned.
func (r *Repository[T]) CreateOrUpdate(ctx context.Context, values query.Values, set ...string) (*T, error) {
	d := query.New(r.entity).Upsert([]query.Values{values}, set...).Returning()
	items, _, err := r.insert(ctx, d)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Upserted entity", "entity", r.entity.Name())
	if r.caps.Returning && len(items) == 1 {
		return items[0], nil
	}
	match, err := r.identify(d.ConflictTarget(), values)
	if err != nil {
		return nil, err
	}
	return r.Reset().FilterBy(match).One(ctx)
}

// GetOrCreate returns the row matching lookup, inserting lookup merged with
// defaults when there is none. The flag reports whether the row was created.
//
// Where the dialect has conflict clauses the insert comes first and ignores
// conflicts on the lookup columns, so concurrent callers cannot both create
// the row; the lookup columns must carry a unique constraint. Other dialects
// select first and insert under a lock named after the lookup.
func (r *Repository[T]) GetOrCreate(ctx context.Context, lookup, defaults query.Values) (*T, bool, error) {
	if len(lookup) == 0 {
		return nil, false, types.NewSchemaError(r.entity.Name(), "", "get or create needs lookup values")
	}
	row := make(query.Values, len(lookup)+len(defaults))
	for k, v := range defaults {
		row[k] = v
	}
	for k, v := range lookup {
		row[k] = v
	}
	find := r.Reset().FilterBy(lookup)

	if !r.caps.Upsert() {
		var (
			item    *T
			created bool
		)
		name := fmt.Sprintf("quarry:get_or_create:%s:%v", r.entity.Table().Name, map[string]any(lookup))
		err := database.Lock(ctx, r.db, name, func(ctx context.Context) (err error) {
			item, created, err = r.selectOrInsert(ctx, find, row)
			return err
		})
		return item, created, err
	}

	d := query.New(r.entity).
		OnConflict(query.OnConflict{IndexElements: lookup.Keys()}).
		Insert([]query.Values{row}, query.IgnoreConflicts()).
		Returning()
	items, res, err := r.insert(ctx, d)
	switch {
	case database.IsDuplicateKey(err):
		// conflict on a constraint other than the lookup columns
	case err != nil:
		return nil, false, err
	case r.caps.Returning && len(items) == 1:
		r.logger.Debug("Created entity", "entity", r.entity.Name())
		return items[0], true, nil
	case !r.caps.Returning && affected(res) == 1:
		item, err := find.One(ctx)
		return item, err == nil, err
	}
	item, err := find.One(ctx)
	return item, false, err
}

func (r *Repository[T]) selectOrInsert(ctx context.Context, find *Repository[T], row query.Values) (*T, bool, error) {
	item, err := find.OneOrNone(ctx)
	if err != nil || item != nil {
		return item, false, err
	}
	items, _, err := r.insert(ctx, query.New(r.entity).Insert([]query.Values{row}).Returning())
	if database.IsDuplicateKey(err) {
		item, err := find.One(ctx)
		return item, false, err
	}
	if err != nil {
		return nil, false, err
	}
	if r.caps.Returning {
		return items[0], true, nil
	}
	item, err = find.One(ctx)
	return item, err == nil, err
}

// Save inserts fully populated models. Generated keys are written back into
// them where the dialect reports them.
func (r *Repository[T]) Save(ctx context.Context, entities ...*T) error {
	if len(entities) == 0 {
		return nil
	}
	models := make([]*T, len(entities))
	copy(models, entities)
	_, err := r.db.NewInsert().Model(&models).Exec(ctx)
	return err
}

// UpdateEntity writes every column of entity to the row with its primary key.
func (r *Repository[T]) UpdateEntity(ctx context.Context, entity *T) error {
	_, err := r.db.NewUpdate().Model(entity).WherePK().Exec(ctx)
	return err
}

// Remove deletes the row with the primary key of entity. A missing row is an
// EntityNotFoundError.
func (r *Repository[T]) Remove(ctx context.Context, entity *T) error {
	res, err := r.db.NewDelete().Model(entity).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return &types.EntityNotFoundError{Entity: r.entity.Name()}
	}
	r.logger.Debug("Removed entity", "entity", r.entity.Name())
	return nil
}

// DeleteOne deletes the only row the query narrowed by conds selects and
// returns it. No row is an EntityNotFoundError, several are ErrMultipleRows
// and nothing is deleted.
func (r *Repository[T]) DeleteOne(ctx context.Context, conds ...query.Condition) (*T, error) {
	var item *T
	err := r.RunInTx(ctx, func(ctx context.Context, tx *Repository[T]) (err error) {
		if item, err = tx.Filter(conds...).One(ctx); err != nil {
			return err
		}
		return tx.Remove(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteMany deletes the rows matching the filter narrowed by conds and
// returns them.
func (r *Repository[T]) DeleteMany(ctx context.Context, conds ...query.Condition) ([]*T, error) {
	target := r.Filter(conds...)
	if err := target.desc.Err(); err != nil {
		return nil, err
	}
	d := query.New(r.entity).Filter(target.desc.Conditions()...).Delete()

	if r.caps.Returning {
		q, err := d.Returning().DeleteQuery(r.db, r.caps)
		if err != nil {
			return nil, err
		}
		items := make([]*T, 0)
		if _, err := q.Exec(ctx, &items); err != nil {
			return nil, err
		}
		r.logger.Debug("Deleted entities", "entity", r.entity.Name(), "rows", len(items))
		return items, nil
	}

	var items []*T
	err := r.RunInTx(ctx, func(ctx context.Context, tx *Repository[T]) (err error) {
		if items, err = tx.with(target.desc).All(ctx); err != nil {
			return err
		}
		q, err := d.DeleteQuery(tx.db, tx.caps)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Deleted entities", "entity", r.entity.Name(), "rows", len(items))
	return items, nil
}

// RunInTx runs fn with the repository bound to a transaction. When the
// repository is already bound to a transaction or connection, fn runs on it
// directly.
func (r *Repository[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Repository[T]) error) error {
	db, ok := r.db.(*bun.DB)
	if !ok {
		return fn(ctx, r)
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, r.WithDB(tx))
	})
}

// Lock runs fn while holding the named lock; see database.Lock.
func (r *Repository[T]) Lock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return database.Lock(ctx, r.db, name, fn)
}

// insert runs an INSERT or UPSERT. With RETURNING the rows come back from the
// database, otherwise the models built from the rows are returned.
func (r *Repository[T]) insert(ctx context.Context, d *query.Descriptor) ([]*T, sql.Result, error) {
	q, models, err := d.InsertQuery(r.db, r.caps)
	if err != nil {
		return nil, nil, err
	}
	if d.IsReturning() && r.caps.Returning {
		items := make([]*T, 0)
		res, err := q.Exec(ctx, &items)
		if err != nil {
			return nil, nil, err
		}
		return items, res, nil
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return nil, nil, err
	}
	return *models.(*[]*T), res, nil
}

// reload selects the row written from values again to pick up generated
// keys and database defaults. It is found by the primary key of item, else by
// the conflict target, else as the newest row carrying values.
func (r *Repository[T]) reload(ctx context.Context, item *T, values query.Values) (*T, error) {
	pk := r.entity.PrimaryKey()
	keys := make([]any, 0, len(pk))
	for _, c := range pk {
		v, err := r.entity.FieldValue(item, c)
		if err != nil {
			return nil, err
		}
		if v == nil || reflect.ValueOf(v).IsZero() {
			break
		}
		keys = append(keys, v)
	}
	if len(keys) == len(pk) {
		return r.Get(ctx, keys...)
	}
	if match, err := r.identify(r.entity.OnConflict(), values); err == nil {
		return r.Reset().FilterBy(match).One(ctx)
	}
	newest := make([]query.Order, len(pk))
	for i, c := range pk {
		newest[i] = query.Desc(c)
	}
	found, err := r.Reset().FilterBy(values).OrderBy(newest...).First(ctx)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, &types.EntityNotFoundError{Entity: r.entity.Name()}
	}
	return found, nil
}

// identify picks the conflict target columns out of values.
func (r *Repository[T]) identify(target query.OnConflict, values query.Values) (query.Values, error) {
	match := make(query.Values, len(target.IndexElements))
	for _, c := range target.IndexElements {
		v, ok := values[c]
		if !ok {
			return nil, types.NewSchemaError(r.entity.Name(), c, "conflict target column has no value")
		}
		match[c] = v
	}
	return match, nil
}

func affected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
