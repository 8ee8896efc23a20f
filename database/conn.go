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

package database

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

var (
	globalMu      sync.RWMutex
	globalFactory *BaseDatabaseFactory
	globalConfig  *Config
)

// GetDB returns the global Bun database instance, or nil before InitDB.
func GetDB() *bun.DB {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory == nil {
		return nil
	}
	return globalFactory.GetDB()
}

// GetConfig returns the configuration InitDB was called with.
func GetConfig() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalConfig == nil {
		return DefaultConfig()
	}
	return globalConfig
}

// GetDatabaseManager returns the global database manager.
func GetDatabaseManager() AbstractDatabaseManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory == nil {
		return nil
	}
	return globalFactory.GetManager()
}

// InitDB connects the global database described by cfg, registers the known
// models with Bun and, if cfg.CreateTables is set, creates their tables.
func InitDB(ctx context.Context, cfg *Config) (*bun.DB, error) {
	if cfg == nil {
		return nil, errors.New("database configuration cannot be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory := NewDatabaseFactory()
	manager, err := factory.CreateFromConfig(&cfg.ConnectionConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create database manager")
	}
	if err := factory.InitializeDatabase(ctx, cfg.CreateTables); err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	db := manager.GetDB()
	db.RegisterModel(RegisteredModelInstances()...)

	globalMu.Lock()
	globalFactory, globalConfig = factory, cfg
	globalMu.Unlock()
	return db, nil
}

// CloseDB closes the global database connection.
func CloseDB() error {
	globalMu.Lock()
	factory := globalFactory
	globalFactory = nil
	globalMu.Unlock()
	if factory == nil {
		return nil
	}
	return factory.Close()
}

// GetHealthStatus returns the current global database health status.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	globalMu.RLock()
	factory := globalFactory
	globalMu.RUnlock()
	if factory == nil {
		return &HealthStatus{LastError: "Database not initialized"}
	}
	return factory.GetHealthStatus(ctx)
}

// GetDatabaseStats returns global database statistics.
func GetDatabaseStats() *DBStats {
	globalMu.RLock()
	factory := globalFactory
	globalMu.RUnlock()
	if factory == nil {
		return &DBStats{}
	}
	return factory.GetStats()
}
