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

package database_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/internal/dbtest"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"golang.org/x/sync/errgroup"
)

type Tag struct {
	bun.BaseModel `bun:"table:tags,alias:t"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull,unique"`
}

type Post struct {
	bun.BaseModel `bun:"table:posts,alias:p"`

	ID    int64  `bun:"id,pk,autoincrement"`
	Title string `bun:"title,notnull"`
}

func TestIsSqlError(t *testing.T) {
	for name, tc := range map[string]struct {
		err  error
		is   bool
		kind database.SQLError
	}{
		"nil":               {nil, false, database.UnknownErr},
		"plain":             {errors.New("connection reset"), false, database.UnknownErr},
		"mysql duplicate":   {&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true, database.DuplicateKeyErr},
		"mysql unknown":     {&mysql.MySQLError{Number: 9999}, true, database.UnknownErr},
		"pq duplicate":      {&pq.Error{Code: "23505"}, true, database.DuplicateKeyErr},
		"pq foreign key":    {errors.Wrap(&pq.Error{Code: "23503"}, "insert"), true, database.ForeignKeyViolationErr},
		"sqlstate message":  {errors.New("ERROR: null value (SQLSTATE 23502)"), true, database.NotNullViolationErr},
		"sqlite unique":     {errors.New("constraint failed: UNIQUE constraint failed: tags.name (2067)"), true, database.DuplicateKeyErr},
		"sqlite no table":   {errors.New("SQL logic error: no such table: tags (1)"), true, database.NoTableErr},
		"sqlite no column":  {errors.New("SQL logic error: no such column: nope (1)"), true, database.NoColumnErr},
		"table exists":      {errors.New(`table "tags" already exists`), true, database.ExistTableErr},
		"sqlite not null":   {errors.New("NOT NULL constraint failed: tags.name"), true, database.NotNullViolationErr},
		"wrapped truncated": {errors.Wrap(&mysql.MySQLError{Number: 1406}, "update"), true, database.DataTruncatedErr},
	} {
		t.Run(name, func(t *testing.T) {
			is, kind := database.IsSqlError(tc.err)
			assert.Equal(t, tc.is, is)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.kind == database.DuplicateKeyErr, database.IsDuplicateKey(tc.err))
		})
	}
}

func TestDuplicateKeyFromDriver(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, (*Tag)(nil))
	dbtest.Insert(t, db, &Tag{Name: "go"})

	_, err := db.NewInsert().Model(&Tag{Name: "go"}).Exec(ctx)
	require.Error(t, err)
	assert.True(t, database.IsDuplicateKey(err))
}

func TestCapabilitiesOf(t *testing.T) {
	sqlite := dbtest.Open(t)
	caps := database.CapabilitiesOf(sqlite)
	assert.Equal(t, database.Capabilities{Returning: true, OnConflict: true}, caps)
	assert.True(t, caps.Upsert())
	assert.Equal(t, "[returning on_conflict]", caps.String())

	pgDB, err := sql.Open("postgres", "postgres://localhost/quarry?sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgDB.Close() })
	pg := bun.NewDB(pgDB, pgdialect.New())
	assert.Equal(t, database.Capabilities{Returning: true, OnConflict: true, AdvisoryLocks: true}, database.CapabilitiesOf(pg))

	myDB, err := sql.Open("mysql", "root@tcp(localhost:3306)/quarry")
	require.NoError(t, err)
	t.Cleanup(func() { _ = myDB.Close() })
	my := bun.NewDB(myDB, mysqldialect.New())
	caps = database.CapabilitiesOf(my)
	assert.False(t, caps.Returning)
	assert.True(t, caps.OnDuplicateKey)
	assert.True(t, caps.Upsert())

	assert.False(t, database.Capabilities{}.Upsert())
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, database.LockKey("jobs"), database.LockKey("jobs"))
	assert.NotEqual(t, database.LockKey("jobs"), database.LockKey("jobs2"))
	assert.GreaterOrEqual(t, database.LockKey("anything"), int64(0))
}

func TestLocalLockExcludes(t *testing.T) {
	db := dbtest.Open(t)
	var inside, peak int32

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			return database.Lock(context.Background(), db, "counter", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, peak)
}

func TestLockReleasedOnError(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	boom := errors.New("boom")

	err := database.Lock(ctx, db, "release", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	done := make(chan error, 1)
	go func() {
		done <- database.Lock(ctx, db, "release", func(context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lock was not released")
	}
}

func TestLocalLockSlotsReleased(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	var g errgroup.Group
	for i := range 16 {
		g.Go(func() error {
			return database.Lock(ctx, db, fmt.Sprintf("lookup-%d", i%4), func(context.Context) error { return nil })
		})
	}
	require.NoError(t, g.Wait())
	assert.Zero(t, database.LocalLockCount())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	held := make(chan struct{})
	release := make(chan struct{})
	g.Go(func() error {
		return database.Lock(ctx, db, "held", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	})
	<-held
	err := database.Lock(cancelled, db, "held", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, database.LocalLockCount())
	close(release)
	require.NoError(t, g.Wait())
	assert.Zero(t, database.LocalLockCount())
}

func TestLockWaitHonoursContext(t *testing.T) {
	db := dbtest.Open(t)
	held := make(chan struct{})
	release := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		return database.Lock(context.Background(), db, "busy", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	})
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := database.Lock(ctx, db, "busy", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	close(release)
	require.NoError(t, g.Wait())
}

func TestCreateAndDropTables(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	require.NoError(t, database.CreateTables(ctx, db, (*Tag)(nil), (*Post)(nil)))
	// existing tables are left alone
	require.NoError(t, database.CreateTables(ctx, db, (*Tag)(nil)))
	dbtest.Insert(t, db, &Post{Title: "hello"})

	n, err := db.NewSelect().Model((*Post)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, database.DropTables(ctx, db, (*Tag)(nil), (*Post)(nil)))
	require.NoError(t, database.DropTables(ctx, db, (*Tag)(nil)))

	_, err = db.NewSelect().Model((*Post)(nil)).Count(ctx)
	is, kind := database.IsSqlError(err)
	assert.True(t, is)
	assert.Equal(t, database.NoTableErr, kind)
}

func TestModelRegistry(t *testing.T) {
	r := database.NewModelRegistry()
	r.Register(database.NewModelAdapter((*Post)(nil), 20))
	r.Register(database.NewModelAdapter((*Tag)(nil), 10))
	r.Register(database.NewModelAdapter((*Post)(nil), 5))

	models := r.Models()
	require.Len(t, models, 2)
	assert.Equal(t, 5, models[0].Priority())
	assert.IsType(t, (*Post)(nil), models[0].Instance())
	assert.Equal(t, []interface{}{(*Post)(nil), (*Tag)(nil)}, r.Instances())
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	m := database.NewDatabaseManager(dbtest.Config())
	m.SetLogger(database.NopLogger())

	status := m.HealthCheck(ctx)
	assert.False(t, status.Healthy)

	require.NoError(t, m.Connect(ctx))
	t.Cleanup(func() { _ = m.Disconnect() })

	require.NoError(t, m.Ping(ctx))
	status = m.HealthCheck(ctx)
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)
	assert.Equal(t, 1, status.MaxOpenConns)
	assert.Equal(t, 1, m.GetStats().MaxOpenConns)
	assert.True(t, m.Capabilities().Returning)
	assert.NotNil(t, m.GetSQLDB())
}

func TestManagerRejectsUnknownType(t *testing.T) {
	cfg := dbtest.Config()
	cfg.Type = "oracle"
	_, err := database.NewDatabaseFactory().CreateFromConfig(cfg)
	assert.Error(t, err)
}

func TestFactoryEnvOverrides(t *testing.T) {
	t.Setenv("DB_TYPE", "postgres")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_CONN_MAX_LIFETIME", "90")
	t.Setenv("DB_SLOW_QUERY_TIME", "250ms")
	t.Setenv("DB_ENABLE_RECONNECT", "false")

	cfg := database.DefaultConnectionConfig()
	_, err := database.NewDatabaseFactory().CreateFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Type)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, 7, cfg.MaxOpenConns)
	assert.Equal(t, 90*time.Second, cfg.ConnMaxLifetime)
	assert.Equal(t, 250*time.Millisecond, cfg.SlowQueryTime)
	assert.False(t, cfg.EnableReconnect)
}

func TestSupportedTypes(t *testing.T) {
	assert.Equal(t, []string{"mysql", "postgres", "postgresql", "sqlite", "sqlite3"}, database.SupportedTypes())
}
