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

package quarry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/repository"
	"github.com/tomoncle/quarry/types"
	"github.com/tomoncle/quarry/uow"
	"github.com/uptrace/bun"
)

// ErrNotInitialized is returned when the global database has not been set up
// with database.InitDB.
var ErrNotInitialized = errors.New("quarry: database not initialized")

type Service[T any] interface {
	// Get returns a single entity by its primary key.
	Get(ctx context.Context, pk ...any) (*T, error)

	// All returns all entities in default order.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match all conditions.
	List(ctx context.Context, conds ...query.Condition) ([]*T, error)

	// Page returns a page of entities using the repository's strategy.
	Page(ctx context.Context, req *types.PageRequest) (types.Page[T], error)

	// Create inserts one row and returns it as stored.
	Create(ctx context.Context, values query.Values) (*T, error)

	// CreateOrUpdate upserts one row on the entity's conflict target.
	CreateOrUpdate(ctx context.Context, values query.Values) (*T, error)

	// GetOrCreate returns the row matching lookup, creating it if needed.
	GetOrCreate(ctx context.Context, lookup, defaults query.Values) (*T, bool, error)

	// Save inserts one or more fully populated entities.
	Save(ctx context.Context, model ...*T) error

	// Update writes an existing entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its primary key.
	Delete(ctx context.Context, pk ...any) error

	// Repository returns the repository the service delegates to.
	Repository() (*repository.Repository[T], error)
}

type baseServiceImpl[T any] struct {
	opts []repository.Option
	mu   sync.Mutex
	db   *bun.DB
	repo *repository.Repository[T]
}

// NewService returns a default Service implementation using the generic
// repository backed by the global database connection. The repository is
// built on first use and again whenever the global connection changes, so
// the service may be created before InitDB.
func NewService[T any](opts ...repository.Option) Service[T] {
	return &baseServiceImpl[T]{opts: opts}
}

func (s *baseServiceImpl[T]) baseRepo() (*repository.Repository[T], error) {
	db := database.GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo != nil && s.db == db {
		return s.repo, nil
	}
	repo, err := repository.New[T](db, s.opts...)
	if err != nil {
		return nil, err
	}
	s.db, s.repo = db, repo
	return repo, nil
}

func (s *baseServiceImpl[T]) Repository() (*repository.Repository[T], error) {
	return s.baseRepo()
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, pk ...any) (*T, error) {
	r, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, pk...)
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]*T, error) {
	r, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return r.All(ctx)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, conds ...query.Condition) ([]*T, error) {
	r, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return r.List(ctx, conds...)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, req *types.PageRequest) (types.Page[T], error) {
	r, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return r.GetPage(ctx, req)
}

func (s *baseServiceImpl[T]) Create(ctx context.Context, values query.Values) (*T, error) {
	r, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return r.Create(ctx, values)
}

func (s *baseServiceImpl[T]) CreateOrUpdate(ctx context.Context, values query.Values) (*T, error) {
	r, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return r.CreateOrUpdate(ctx, values)
}

func (s *baseServiceImpl[T]) GetOrCreate(ctx context.Context, lookup, defaults query.Values) (*T, bool, error) {
	r, err := s.baseRepo()
	if err != nil {
		return nil, false, err
	}
	return r.GetOrCreate(ctx, lookup, defaults)
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	r, err := s.baseRepo()
	if err != nil {
		return err
	}
	return r.Save(ctx, model...)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, model *T) error {
	r, err := s.baseRepo()
	if err != nil {
		return err
	}
	return r.UpdateEntity(ctx, model)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, pk ...any) error {
	r, err := s.baseRepo()
	if err != nil {
		return err
	}
	return r.RunInTx(ctx, func(ctx context.Context, tx *Repository[T]) error {
		item, err := tx.Get(ctx, pk...)
		if err != nil {
			return err
		}
		return tx.Remove(ctx, item)
	})
}

// Repository is the repository type services delegate to.
type Repository[T any] = repository.Repository[T]

// InTransaction runs fn in a unit of work on the global database. The
// transaction commits when fn returns nil and rolls back otherwise.
func InTransaction(ctx context.Context, fn func(ctx context.Context, u *uow.UnitOfWork) error, opts ...uow.Option) error {
	db := database.GetDB()
	if db == nil {
		return ErrNotInitialized
	}
	return uow.New(db, opts...).Run(ctx, fn)
}
