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

// Package dbtest opens throwaway in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/quarry/database"
	"github.com/uptrace/bun"
)

// Config returns a connection config for a private in-memory database.
// Every call names a new database so tests never share rows.
func Config() *database.ConnectionConfig {
	cfg := database.DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg.HealthCheckInterval = 0
	cfg.EnableReconnect = false
	cfg.SlowQueryTime = 0
	_, cfg.EnableQueryLog = os.LookupEnv("QUARRY_TEST_QUERY_LOG")
	cfg.ColorQueryLog = cfg.EnableQueryLog
	return cfg
}

// Open connects to a new database and creates the tables of models.
// The connection is closed when the test ends.
func Open(t testing.TB, models ...interface{}) *bun.DB {
	t.Helper()
	ctx := context.Background()

	m := database.NewDatabaseManager(Config())
	m.SetLogger(database.NopLogger())
	require.NoError(t, m.Connect(ctx))
	t.Cleanup(func() { _ = m.Disconnect() })

	db := m.GetDB()
	if len(models) > 0 {
		require.NoError(t, database.CreateTables(ctx, db, models...))
	}
	return db
}

// Insert stores rows, failing the test on error.
func Insert(t testing.TB, db bun.IDB, rows interface{}) {
	t.Helper()
	_, err := db.NewInsert().Model(rows).Exec(context.Background())
	require.NoError(t, err)
}
