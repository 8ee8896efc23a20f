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

package pagination

import (
	"context"
	"slices"

	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
)

// Keyset pages by comparing ordering values with the boundary row of the
// previous page instead of skipping rows.
type Keyset[T any] struct {
	Limits Limits
	Logger database.Logger
}

var _ Strategy[struct{}] = (*Keyset[struct{}])(nil)

func (k *Keyset[T]) Kind() Kind { return KindToken }

func (k *Keyset[T]) Paginate(ctx context.Context, db bun.IDB, d *query.Descriptor, req *types.PageRequest) (types.Page[T], error) {
	return k.Page(ctx, db, d, req)
}

// Page fetches the page req.GetToken() points at, the first page for an
// empty token.
func (k *Keyset[T]) Page(ctx context.Context, db bun.IDB, d *query.Descriptor, req *types.PageRequest) (*types.TokenPage[T], error) {
	if err := readable(d); err != nil {
		return nil, err
	}
	e := d.Entity()
	ordering := Deterministic(e, d.Ordering())
	size := k.Limits.size(req)
	token := req.GetToken()

	var cursor *Cursor
	if token != "" {
		c, err := DecodeToken(e, ordering, token)
		if err != nil {
			return nil, err
		}
		cursor = &c
	}
	backwards := cursor != nil && cursor.Backwards

	fetch := ordering
	if backwards {
		fetch = reversed(ordering)
	}
	q := covering(d, ordering).OrderBy(fetch...).Limit(size + 1).Offset(0)
	if cursor != nil {
		q = q.Filter(After(fetch, cursor.Place))
	}

	items := make([]*T, 0, size+1)
	sq, err := q.SelectQuery(db, &items)
	if err != nil {
		return nil, err
	}
	if err := sq.Scan(ctx); err != nil {
		return nil, err
	}

	more := len(items) > size
	if more {
		items = items[:size]
	}
	if backwards {
		slices.Reverse(items)
	}

	page := &types.TokenPage[T]{Items: items}
	if token != "" {
		page.CurrentPage = &token
	}

	var next, prev *Cursor
	switch {
	case !backwards:
		if more {
			next = k.boundary(e, ordering, items[len(items)-1], false)
		}
		if cursor != nil {
			if len(items) > 0 {
				prev = k.boundary(e, ordering, items[0], true)
			} else {
				prev = &Cursor{Place: cursor.Place, Backwards: true}
			}
		}
	default:
		if more {
			prev = k.boundary(e, ordering, items[0], true)
		}
		if len(items) > 0 {
			next = k.boundary(e, ordering, items[len(items)-1], false)
		} else {
			next = &Cursor{Place: cursor.Place}
		}
	}

	if page.NextPage, err = encode(e, ordering, next); err != nil {
		return nil, err
	}
	if page.PreviousPage, err = encode(e, ordering, prev); err != nil {
		return nil, err
	}

	logger(k.Logger).Debug("Fetched token page",
		"entity", e.Name(), "items", len(items), "backwards", backwards, "has_next", page.HasNext())
	return page, nil
}

func (k *Keyset[T]) boundary(e *query.Entity, ordering []query.Order, item *T, backwards bool) *Cursor {
	c := &Cursor{Backwards: backwards, Place: make([]any, len(ordering))}
	for i, o := range ordering {
		// columns come from the entity, FieldValue cannot fail here
		c.Place[i], _ = e.FieldValue(item, o.Column)
	}
	return c
}

// covering widens a narrowed projection with the ordering columns missing
// from it; the boundary rows must carry every ordering value.
func covering(d *query.Descriptor, ordering []query.Order) *query.Descriptor {
	cols := d.Projection()
	n := len(cols)
	for _, o := range ordering {
		if !slices.Contains(cols, o.Column) {
			cols = append(cols, o.Column)
		}
	}
	if len(cols) == n {
		return d
	}
	return d.Select(cols...)
}

func encode(e *query.Entity, ordering []query.Order, c *Cursor) (*string, error) {
	if c == nil {
		return nil, nil
	}
	s, err := EncodeToken(e, ordering, *c)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Deterministic appends the primary key columns missing from ordering, in
// ascending order, so that every row has a unique position. An empty
// ordering becomes the primary key.
func Deterministic(e *query.Entity, ordering []query.Order) []query.Order {
	out := slices.Clone(ordering)
	for _, pk := range e.PrimaryKey() {
		if !slices.ContainsFunc(out, func(o query.Order) bool { return o.Column == pk }) {
			out = append(out, query.Asc(pk))
		}
	}
	return out
}

// After selects the rows strictly after place in the given ordering:
//
//	(c1 > p1) OR (c1 = p1 AND c2 > p2) OR ...
//
// with < in place of > for descending columns.
func After(ordering []query.Order, place []any) query.Condition {
	branches := make([]query.Condition, len(ordering))
	for i, o := range ordering {
		terms := make([]query.Condition, 0, i+1)
		for j := 0; j < i; j++ {
			terms = append(terms, query.Eq(ordering[j].Column, place[j]))
		}
		if o.Direction == types.Desc {
			terms = append(terms, query.Lt(o.Column, place[i]))
		} else {
			terms = append(terms, query.Gt(o.Column, place[i]))
		}
		branches[i] = query.And(terms...)
	}
	return query.Or(branches...)
}

func reversed(ordering []query.Order) []query.Order {
	out := make([]query.Order, len(ordering))
	for i, o := range ordering {
		out[i] = o.Reverse()
	}
	return out
}
