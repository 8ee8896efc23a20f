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
	"math"

	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
)

// Numbered pages with LIMIT and OFFSET. With totals requested the count and
// the fetch run in one transaction so they see the same rows.
type Numbered[T any] struct {
	Limits Limits
	Logger database.Logger
}

var _ Strategy[struct{}] = (*Numbered[struct{}])(nil)

func (n *Numbered[T]) Kind() Kind { return KindNumbered }

func (n *Numbered[T]) Paginate(ctx context.Context, db bun.IDB, d *query.Descriptor, req *types.PageRequest) (types.Page[T], error) {
	return n.Page(ctx, db, d, req)
}

// Page fetches page req.GetPage(), counting from 1.
func (n *Numbered[T]) Page(ctx context.Context, db bun.IDB, d *query.Descriptor, req *types.PageRequest) (*types.NumberedPage[T], error) {
	if err := readable(d); err != nil {
		return nil, err
	}
	size := n.Limits.size(req)
	page := types.NewNumberedPage[T](req.GetPage())

	fetch := func(ctx context.Context, idb bun.IDB) error {
		// an offset past MaxInt is past the last row
		if page.CurrentPage-1 > math.MaxInt/size {
			return nil
		}
		q, err := d.Limit(size).Offset((page.CurrentPage-1)*size).SelectQuery(idb, &page.Items)
		if err != nil {
			return err
		}
		return q.Scan(ctx)
	}

	var err error
	if req.IncludeTotal() {
		err = consistentRead(ctx, db, func(ctx context.Context, idb bun.IDB) error {
			cq, err := d.CountQuery(idb)
			if err != nil {
				return err
			}
			total, err := cq.Count(ctx)
			if err != nil {
				return err
			}
			pages := (total + size - 1) / size
			page.TotalItems, page.TotalPages = &total, &pages
			if total == 0 {
				return nil
			}
			return fetch(ctx, idb)
		})
	} else {
		err = fetch(ctx, db)
	}
	if err != nil {
		return nil, err
	}
	page.PageSize = len(page.Items)

	logger(n.Logger).Debug("Fetched numbered page",
		"entity", d.Entity().Name(), "page", page.CurrentPage, "items", page.PageSize)
	return page, nil
}

// consistentRead runs fn in a transaction unless db already is one.
func consistentRead(ctx context.Context, db bun.IDB, fn func(ctx context.Context, idb bun.IDB) error) error {
	conn, ok := db.(*bun.DB)
	if !ok {
		return fn(ctx, db)
	}
	return conn.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}
