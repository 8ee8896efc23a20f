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

	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/pagination"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// Repository binds the model type T to a session. Builder methods return a
// new Repository carrying a narrower query; the receiver is never modified,
// so a configured repository can be shared between goroutines as long as
// its session can.
type Repository[T any] struct {
	db       bun.IDB
	entity   *query.Entity
	caps     database.Capabilities
	strategy pagination.Strategy[T]
	limits   pagination.Limits
	logger   database.Logger
	desc     *query.Descriptor
}

// New returns a repository of T on db, which may be a *bun.DB, a bun.Tx or a
// bun.Conn. The entity is resolved once here; a model without a primary key
// is rejected with a SchemaError.
func New[T any](db bun.IDB, opts ...Option) (*Repository[T], error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	e, err := query.EntityOf[T](db, o.entityOptions()...)
	if err != nil {
		return nil, err
	}
	caps := database.CapabilitiesOf(db)
	if o.Capabilities != nil {
		caps = *o.Capabilities
	}
	log := o.Logger
	if log == nil {
		log = database.GetLogger()
	}
	limits := o.limits()
	return &Repository[T]{
		db:       db,
		entity:   e,
		caps:     caps,
		strategy: pagination.New[T](o.Pagination, limits, log),
		limits:   limits,
		logger:   log,
		desc:     query.New(e),
	}, nil
}

// MustNew is like New but panics on error.
func MustNew[T any](db bun.IDB, opts ...Option) *Repository[T] {
	r, err := New[T](db, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Repository[T]) with(d *query.Descriptor) *Repository[T] {
	c := *r
	c.desc = d
	return &c
}

// WithDB returns the repository bound to another session of the same
// dialect, typically a transaction.
func (r *Repository[T]) WithDB(db bun.IDB) *Repository[T] {
	c := *r
	c.db = db
	return &c
}

// Reset returns the repository without any builder state.
func (r *Repository[T]) Reset() *Repository[T] { return r.with(query.New(r.entity)) }

func (r *Repository[T]) DB() bun.IDB { return r.db }

func (r *Repository[T]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *Repository[T]) Entity() *query.Entity { return r.entity }

func (r *Repository[T]) Capabilities() database.Capabilities { return r.caps }

// Descriptor returns the query the builder methods have accumulated.
func (r *Repository[T]) Descriptor() *query.Descriptor { return r.desc }

// Select restricts the columns loaded into the returned models.
func (r *Repository[T]) Select(columns ...string) *Repository[T] {
	return r.with(r.desc.Select(columns...))
}

func (r *Repository[T]) Filter(conds ...query.Condition) *Repository[T] {
	return r.with(r.desc.Filter(conds...))
}

func (r *Repository[T]) Where(conds ...query.Condition) *Repository[T] {
	return r.with(r.desc.Where(conds...))
}

// FilterBy adds an equality for every key of v.
func (r *Repository[T]) FilterBy(v query.Values) *Repository[T] {
	return r.with(r.desc.FilterBy(v))
}

func (r *Repository[T]) Join(target, on string, args ...any) *Repository[T] {
	return r.with(r.desc.Join(target, on, args...))
}

func (r *Repository[T]) LeftJoin(target, on string, args ...any) *Repository[T] {
	return r.with(r.desc.LeftJoin(target, on, args...))
}

func (r *Repository[T]) OrderBy(orders ...query.Order) *Repository[T] {
	return r.with(r.desc.OrderBy(orders...))
}

func (r *Repository[T]) Limit(n int) *Repository[T] {
	return r.with(r.desc.Limit(n))
}

func (r *Repository[T]) Offset(n int) *Repository[T] {
	return r.with(r.desc.Offset(n))
}

// Insert turns the query into an INSERT of rows, run by Exec.
func (r *Repository[T]) Insert(rows []query.Values, opts ...query.InsertOption) *Repository[T] {
	return r.with(r.desc.Insert(rows, opts...))
}

// Upsert turns the query into an INSERT overwriting set on conflict, run by Exec.
func (r *Repository[T]) Upsert(rows []query.Values, set ...string) *Repository[T] {
	return r.with(r.desc.Upsert(rows, set...))
}

// OnConflict replaces the conflict target of a later Upsert.
func (r *Repository[T]) OnConflict(target query.OnConflict) *Repository[T] {
	return r.with(r.desc.OnConflict(target))
}

// Update turns the query into an UPDATE of the filtered rows, run by Exec.
func (r *Repository[T]) Update(values query.Values) *Repository[T] {
	return r.with(r.desc.Update(values))
}

// Delete turns the query into a DELETE of the filtered rows, run by Exec.
func (r *Repository[T]) Delete() *Repository[T] {
	return r.with(r.desc.Delete())
}

// All returns every row the query selects.
func (r *Repository[T]) All(ctx context.Context) ([]*T, error) {
	return r.all(ctx, r.desc)
}

func (r *Repository[T]) all(ctx context.Context, d *query.Descriptor) ([]*T, error) {
	items := make([]*T, 0)
	q, err := d.SelectQuery(r.db, &items)
	if err != nil {
		return nil, err
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

// One returns the only row the query selects. No row is an
// EntityNotFoundError, several rows are ErrMultipleRows.
func (r *Repository[T]) One(ctx context.Context) (*T, error) {
	item, err := r.OneOrNone(ctx)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &types.EntityNotFoundError{Entity: r.entity.Name()}
	}
	return item, nil
}

// OneOrNone is like One but returns nil when no row matches.
func (r *Repository[T]) OneOrNone(ctx context.Context) (*T, error) {
	items, err := r.all(ctx, r.desc.Limit(2))
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		return items[0], nil
	default:
		return nil, ErrMultipleRows
	}
}

// First returns the first row in query order, or nil.
func (r *Repository[T]) First(ctx context.Context) (*T, error) {
	items, err := r.all(ctx, r.desc.Limit(1))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// Count returns the number of rows the query selects, ignoring limit and offset.
func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	q, err := r.desc.CountQuery(r.db)
	if err != nil {
		return 0, err
	}
	return q.Count(ctx)
}

// Exists reports whether the query selects any row.
func (r *Repository[T]) Exists(ctx context.Context) (bool, error) {
	q, err := r.desc.CountQuery(r.db)
	if err != nil {
		return false, err
	}
	return q.Exists(ctx)
}

type execer interface {
	Exec(ctx context.Context, dest ...interface{}) (sql.Result, error)
}

// Exec runs an INSERT, UPSERT, UPDATE or DELETE built with the builder
// methods and returns the number of affected rows.
func (r *Repository[T]) Exec(ctx context.Context) (int64, error) {
	var (
		q   execer
		err error
	)
	switch r.desc.Verb() {
	case query.VerbInsert, query.VerbUpsert:
		q, _, err = r.desc.InsertQuery(r.db, r.caps)
	case query.VerbUpdate:
		q, err = r.desc.UpdateQuery(r.db, r.caps)
	case query.VerbDelete:
		q, err = r.desc.DeleteQuery(r.db, r.caps)
	default:
		if err = r.desc.Err(); err == nil {
			err = &types.UnsupportedOperationError{Operation: "exec " + r.desc.Verb().String(), Capability: "write statement"}
		}
	}
	if err != nil {
		return 0, err
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	r.logger.Debug("Executed statement", "entity", r.entity.Name(), "verb", r.desc.Verb().String(), "rows", n)
	return n, nil
}

// GetPage returns one page of the query using the configured strategy: a
// *types.TokenPage for token pagination, a *types.NumberedPage otherwise.
func (r *Repository[T]) GetPage(ctx context.Context, req *types.PageRequest) (types.Page[T], error) {
	return r.strategy.Paginate(ctx, r.db, r.desc, req)
}

// TokenPage pages the query with keyset pagination regardless of the
// configured strategy.
func (r *Repository[T]) TokenPage(ctx context.Context, req *types.PageRequest) (*types.TokenPage[T], error) {
	return (&pagination.Keyset[T]{Limits: r.limits, Logger: r.logger}).Page(ctx, r.db, r.desc, req)
}

// NumberedPage pages the query with LIMIT and OFFSET regardless of the
// configured strategy.
func (r *Repository[T]) NumberedPage(ctx context.Context, req *types.PageRequest) (*types.NumberedPage[T], error) {
	return (&pagination.Numbered[T]{Limits: r.limits, Logger: r.logger}).Page(ctx, r.db, r.desc, req)
}
