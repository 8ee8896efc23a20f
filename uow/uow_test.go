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

package uow_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/internal/dbtest"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/repository"
	"github.com/tomoncle/quarry/types"
	"github.com/tomoncle/quarry/uow"
	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID     int64 `bun:"id,pk,autoincrement"`
	UserID int64 `bun:"user_id,notnull"`
}

// UserRepository is a custom repository embedding the generic one.
type UserRepository struct {
	*repository.Repository[User]
}

func NewUserRepository(db bun.IDB) (*UserRepository, error) {
	r, err := repository.New[User](db, repository.WithLogger(database.NopLogger()))
	if err != nil {
		return nil, err
	}
	return &UserRepository{Repository: r}, nil
}

func open(t *testing.T) *bun.DB {
	t.Helper()
	return dbtest.Open(t, (*User)(nil), (*Order)(nil))
}

func newUoW(db *bun.DB, opts ...uow.Option) *uow.UnitOfWork {
	return uow.New(db, append([]uow.Option{uow.WithLogger(database.NopLogger())}, opts...)...)
}

func countUsers(t *testing.T, db *bun.DB) int {
	t.Helper()
	n, err := db.NewSelect().Model((*User)(nil)).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestCommitOnExit(t *testing.T) {
	ctx := context.Background()
	db := open(t)
	u := newUoW(db)

	err := u.Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		users, err := uow.Repo[User](u)
		if err != nil {
			return err
		}
		orders, err := uow.Repo[Order](u)
		if err != nil {
			return err
		}
		user, err := users.Create(ctx, query.Values{"name": "John"})
		if err != nil {
			return err
		}
		_, err = orders.Create(ctx, query.Values{"user_id": user.ID})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 1, countUsers(t, db))
	n, err := db.NewSelect().Model((*Order)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRollbackOnError(t *testing.T) {
	ctx := context.Background()
	db := open(t)
	boom := errors.New("boom")

	err := newUoW(db).Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		users, err := uow.Repo[User](u)
		if err != nil {
			return err
		}
		if _, err := users.Create(ctx, query.Values{"name": "John"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countUsers(t, db))
}

func TestRollbackOnPanic(t *testing.T) {
	ctx := context.Background()
	db := open(t)
	u := newUoW(db)

	assert.PanicsWithValue(t, "boom", func() {
		_ = u.Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
			users, err := uow.Repo[User](u)
			if err != nil {
				return err
			}
			if _, err := users.Create(ctx, query.Values{"name": "John"}); err != nil {
				return err
			}
			panic("boom")
		})
	})
	assert.Equal(t, 0, countUsers(t, db))

	// the panic left the unit of work reusable
	require.NoError(t, u.Enter(ctx))
	require.NoError(t, u.Exit(nil))
}

func TestRepositoriesShareTransaction(t *testing.T) {
	ctx := context.Background()
	u := newUoW(open(t))
	require.NoError(t, u.Enter(ctx))
	defer func() { _ = u.Exit(nil) }()

	first, err := uow.Repo[User](u)
	require.NoError(t, err)
	second, err := uow.Repo[User](u)
	require.NoError(t, err)
	assert.Same(t, first, second)

	session, err := u.Session()
	require.NoError(t, err)
	assert.Equal(t, session, first.DB())

	custom, err := uow.Resolve(u, NewUserRepository)
	require.NoError(t, err)
	again, err := uow.Resolve(u, NewUserRepository)
	require.NoError(t, err)
	assert.Same(t, custom, again)
	assert.Equal(t, session, custom.DB())

	_, err = first.Create(ctx, query.Values{"name": "Ann"})
	require.NoError(t, err)
	n, err := custom.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveConstructorError(t *testing.T) {
	u := newUoW(open(t))
	require.NoError(t, u.Enter(context.Background()))
	defer func() { _ = u.Exit(nil) }()

	boom := errors.New("boom")
	calls := 0
	ctor := func(bun.IDB) (*UserRepository, error) {
		calls++
		return nil, boom
	}
	_, err := uow.Resolve(u, ctor)
	assert.ErrorIs(t, err, boom)
	_, err = uow.Resolve(u, ctor)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestStateErrors(t *testing.T) {
	ctx := context.Background()
	u := newUoW(open(t))

	_, err := uow.Repo[User](u)
	assert.True(t, types.IsStateError(err))
	_, err = u.Session()
	assert.True(t, types.IsStateError(err))
	assert.True(t, types.IsStateError(u.Commit()))
	assert.True(t, types.IsStateError(u.Exit(nil)))

	require.NoError(t, u.Enter(ctx))
	assert.True(t, types.IsStateError(u.Enter(ctx)))

	require.NoError(t, u.Commit())
	_, err = uow.Repo[User](u)
	assert.True(t, types.IsStateError(err))
	assert.True(t, types.IsStateError(u.Rollback()))
	require.NoError(t, u.Exit(nil))

	_, err = uow.Repo[User](u)
	assert.True(t, types.IsStateError(err))
}

func TestExplicitRollback(t *testing.T) {
	ctx := context.Background()
	db := open(t)
	u := newUoW(db)

	require.NoError(t, u.Enter(ctx))
	users, err := uow.Repo[User](u)
	require.NoError(t, err)
	_, err = users.Create(ctx, query.Values{"name": "John"})
	require.NoError(t, err)
	require.NoError(t, u.Rollback())
	require.NoError(t, u.Exit(nil))

	assert.Equal(t, 0, countUsers(t, db))
}

func TestWithoutAutocommit(t *testing.T) {
	ctx := context.Background()
	db := open(t)
	u := newUoW(db, uow.WithAutocommit(false))

	create := func(ctx context.Context, u *uow.UnitOfWork) error {
		users, err := uow.Repo[User](u)
		if err != nil {
			return err
		}
		_, err = users.Create(ctx, query.Values{"name": "John"})
		return err
	}
	require.NoError(t, u.Run(ctx, create))
	assert.Equal(t, 0, countUsers(t, db))

	require.NoError(t, u.Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		if err := create(ctx, u); err != nil {
			return err
		}
		return u.Commit()
	}))
	assert.Equal(t, 1, countUsers(t, db))
}

func TestFailedCommit(t *testing.T) {
	abort := func(ctx context.Context, u *uow.UnitOfWork) error {
		session, err := u.Session()
		if err != nil {
			return err
		}
		return session.(bun.Tx).Rollback()
	}

	u := newUoW(open(t))
	err := u.Run(context.Background(), abort)
	assert.ErrorIs(t, err, sql.ErrTxDone)

	u = newUoW(open(t), uow.WithRaiseOnError(false))
	assert.NoError(t, u.Run(context.Background(), abort))
}

func TestFailedExplicitCommit(t *testing.T) {
	ctx := context.Background()
	for name, tc := range map[string]struct {
		raise bool
		fails bool
	}{
		"raise":  {raise: true, fails: true},
		"silent": {raise: false, fails: false},
	} {
		t.Run(name, func(t *testing.T) {
			u := newUoW(open(t), uow.WithRaiseOnError(tc.raise))
			require.NoError(t, u.Enter(ctx))
			session, err := u.Session()
			require.NoError(t, err)
			require.NoError(t, session.(bun.Tx).Rollback())

			err = u.Commit()
			if tc.fails {
				assert.ErrorIs(t, err, sql.ErrTxDone)
			} else {
				assert.NoError(t, err)
			}
			assert.True(t, types.IsStateError(u.Commit()))
			assert.NoError(t, u.Exit(nil))
		})
	}
}

func TestEnterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := newUoW(open(t))
	assert.ErrorIs(t, u.Enter(ctx), context.Canceled)
	assert.True(t, types.IsStateError(u.Exit(nil)))
}
