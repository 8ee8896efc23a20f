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

	"github.com/pkg/errors"
	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/pagination"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/types"
)

// ErrMultipleRows is returned by One and OneOrNone when more than one row matches.
var ErrMultipleRows = errors.New("repository: more than one row matches")

// CrudRepository defines single entity operations.
type CrudRepository[T any] interface {
	Get(ctx context.Context, pk ...any) (*T, error)

	List(ctx context.Context, conds ...query.Condition) ([]*T, error)

	Create(ctx context.Context, values query.Values) (*T, error)

	CreateOrUpdate(ctx context.Context, values query.Values, set ...string) (*T, error)

	GetOrCreate(ctx context.Context, lookup, defaults query.Values) (*T, bool, error)

	Save(ctx context.Context, entities ...*T) error

	UpdateEntity(ctx context.Context, entity *T) error

	Remove(ctx context.Context, entity *T) error

	DeleteOne(ctx context.Context, conds ...query.Condition) (*T, error)

	DeleteMany(ctx context.Context, conds ...query.Condition) ([]*T, error)
}

// BulkRepository defines multi-row writes.
type BulkRepository[T any] interface {
	BulkCreate(ctx context.Context, rows []query.Values) ([]*T, error)
	BulkCreateOrUpdate(ctx context.Context, rows []query.Values, set ...string) ([]*T, error)
	BulkUpdate(ctx context.Context, rows []query.Values, on []string, conds ...query.Condition) (int64, error)
}

// PageQueryRepository defines pagination over the repository's query.
type PageQueryRepository[T any] interface {
	Count(ctx context.Context) (int, error)
	GetPage(ctx context.Context, req *types.PageRequest) (types.Page[T], error)
}

var (
	_ CrudRepository[struct{}]      = (*Repository[struct{}])(nil)
	_ BulkRepository[struct{}]      = (*Repository[struct{}])(nil)
	_ PageQueryRepository[struct{}] = (*Repository[struct{}])(nil)
)

// Options configures a repository.
type Options struct {
	Pagination     pagination.Kind
	Limits         *pagination.Limits
	DefaultOrder   []query.Order
	ConflictTarget *query.OnConflict
	Capabilities   *database.Capabilities
	Logger         database.Logger
}

type Option func(*Options)

// WithPagination selects the strategy GetPage uses. Token pagination is the default.
func WithPagination(kind pagination.Kind) Option {
	return func(o *Options) { o.Pagination = kind }
}

// WithPageLimits overrides the page size limits taken from the global
// configuration.
func WithPageLimits(defaultSize, maxSize int) Option {
	return func(o *Options) {
		o.Limits = &pagination.Limits{DefaultPageSize: defaultSize, MaxPageSize: maxSize}
	}
}

// WithDefaultOrder overrides the model's default ordering.
func WithDefaultOrder(orders ...query.Order) Option {
	return func(o *Options) { o.DefaultOrder = orders }
}

// WithConflictTarget overrides the model's conflict target for upserts.
func WithConflictTarget(c query.OnConflict) Option {
	return func(o *Options) { o.ConflictTarget = &c }
}

// WithCapabilities replaces the capabilities derived from the dialect.
func WithCapabilities(c database.Capabilities) Option {
	return func(o *Options) { o.Capabilities = &c }
}

func WithLogger(l database.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func (o *Options) entityOptions() []query.EntityOption {
	var out []query.EntityOption
	if o.DefaultOrder != nil {
		out = append(out, query.WithDefaultOrder(o.DefaultOrder...))
	}
	if o.ConflictTarget != nil {
		out = append(out, query.WithConflictTarget(*o.ConflictTarget))
	}
	return out
}

func (o *Options) limits() pagination.Limits {
	if o.Limits != nil {
		return *o.Limits
	}
	return pagination.LimitsOf(database.GetConfig().PaginationConfig)
}
