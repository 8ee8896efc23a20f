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
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

// driver turns a connection config into what sql.Open and bun.NewDB need.
// It may tighten the pool settings of cfg.
type driver struct {
	name    string
	dsn     func(cfg *ConnectionConfig) string
	dialect func() schema.Dialect
}

var drivers = map[string]driver{
	"mysql":      {name: "mysql", dsn: mysqlDSN, dialect: func() schema.Dialect { return mysqldialect.New() }},
	"postgres":   {name: "postgres", dsn: postgresDSN, dialect: func() schema.Dialect { return pgdialect.New() }},
	"postgresql": {name: "postgres", dsn: postgresDSN, dialect: func() schema.Dialect { return pgdialect.New() }},
	"sqlite":     {name: sqliteshim.ShimName, dsn: sqliteDSN, dialect: func() schema.Dialect { return sqlitedialect.New() }},
	"sqlite3":    {name: sqliteshim.ShimName, dsn: sqliteDSN, dialect: func() schema.Dialect { return sqlitedialect.New() }},
}

// SupportedTypes lists the accepted values of ConnectionConfig.Type.
func SupportedTypes() []string {
	types := make([]string, 0, len(drivers))
	for t := range drivers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func mysqlDSN(c *ConnectionConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.DBName
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Timeout = c.ConnectTimeout
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func postgresDSN(c *ConnectionConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.DBName,
		RawQuery: url.Values{
			"sslmode":         {sslMode},
			"connect_timeout": {fmt.Sprint(int(c.ConnectTimeout.Seconds()))},
		}.Encode(),
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

func sqliteDSN(c *ConnectionConfig) string {
	dsn := c.DSN
	switch {
	case dsn == "" && (c.DBName == "" || c.DBName == ":memory:"):
		dsn = "file::memory:?cache=shared"
	case dsn == "":
		dsn = c.DBName + ".db"
	}
	if strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:") {
		// every pooled connection would otherwise see its own empty database
		c.MaxOpenConns, c.MaxIdleConns = 1, 1
		c.ConnMaxLifetime, c.ConnMaxIdleTime = 0, 0
	}
	return dsn
}

type defaultDatabaseManager struct {
	config *ConnectionConfig
	logger Logger

	mu             sync.RWMutex
	db             *bun.DB
	sqlDB          *sql.DB
	capabilities   Capabilities
	connected      bool
	lastError      error
	healthStatus   *HealthStatus
	reconnectTries int
	stopMonitor    context.CancelFunc
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun.
// If config is nil, the default configuration is used.
func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return &defaultDatabaseManager{
		config:       config,
		logger:       GetLogger(),
		healthStatus: &HealthStatus{},
	}
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.connected && dm.db != nil {
		return nil
	}
	if err := dm.open(ctx); err != nil {
		dm.lastError = err
		return err
	}

	dm.capabilities = CapabilitiesOf(dm.db)
	dm.connected = true
	dm.lastError = nil
	dm.reconnectTries = 0
	if dm.config.HealthCheckInterval > 0 && dm.stopMonitor == nil {
		monitorCtx, cancel := context.WithCancel(context.Background())
		dm.stopMonitor = cancel
		go dm.monitor(monitorCtx)
	}

	dm.logger.Info("Database connected",
		"type", dm.config.Type,
		"host", dm.config.Host,
		"capabilities", dm.capabilities.String(),
	)
	return nil
}

// open creates the pool and Bun handle and checks the connection.
func (dm *defaultDatabaseManager) open(ctx context.Context) error {
	d, ok := drivers[dm.config.Type]
	if !ok {
		return errors.Errorf("unsupported database type: %s", dm.config.Type)
	}
	if dm.config.ConnectTimeout <= 0 {
		dm.config.ConnectTimeout = 30 * time.Second
	}

	sqlDB, err := sql.Open(d.name, d.dsn(dm.config))
	if err != nil {
		return errors.Wrap(err, "failed to create database connection")
	}
	sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)

	db := bun.NewDB(sqlDB, d.dialect())
	dm.addQueryHooks(db)

	pingCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "database connection test failed")
	}
	dm.sqlDB, dm.db = sqlDB, db
	return nil
}

func (dm *defaultDatabaseManager) addQueryHooks(db *bun.DB) {
	switch {
	case !dm.config.EnableQueryLog:
	case dm.config.ColorQueryLog:
		db.AddQueryHook(NewQueryHook("QUARRY_QUERY_LOG", true, true, nil))
	default:
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(NewSlowQueryHook(dm.config.SlowQueryTime, dm.logger, nil))
	}
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.stopMonitor != nil {
		dm.stopMonitor()
		dm.stopMonitor = nil
	}
	return dm.close()
}

func (dm *defaultDatabaseManager) close() error {
	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db, dm.sqlDB = nil, nil
	dm.connected = false
	if err != nil {
		dm.logger.Error("Failed to close database connection", "error", err)
		return err
	}
	dm.logger.Info("Database connection closed")
	return nil
}

// Reconnect replaces the connection pool. A running health monitor keeps
// running.
func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	dm.logger.Info("Attempting to reconnect to the database")
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := dm.close(); err != nil {
		dm.logger.Warn("Error disconnecting existing connection", "error", err)
	}
	if err := dm.open(ctx); err != nil {
		dm.lastError = err
		return err
	}
	dm.capabilities = CapabilitiesOf(dm.db)
	dm.connected = true
	dm.lastError = nil
	return nil
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return errors.New("database not connected")
	}
	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	start := time.Now()
	status := &HealthStatus{LastCheckTime: start, Connected: dm.connected}
	if dm.db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := dm.db.PingContext(pingCtx)
	status.ResponseTime = time.Since(start)
	status.Healthy = err == nil
	status.Connected = err == nil
	dm.lastError = err
	if err != nil {
		status.LastError = err.Error()
	}

	stats := dm.sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections

	dm.healthStatus = status
	return status
}

// monitor checks the connection every HealthCheckInterval and reconnects
// when it is unhealthy, until ctx is cancelled.
func (dm *defaultDatabaseManager) monitor(ctx context.Context) {
	ticker := time.NewTicker(dm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		status := dm.HealthCheck(checkCtx)
		cancel()
		if status.Healthy || !dm.config.EnableReconnect {
			continue
		}
		if dm.reconnectTries >= dm.config.MaxReconnectTries {
			dm.logger.Error("Max reconnect attempts reached, stopping", "tries", dm.reconnectTries)
			return
		}
		dm.reconnectTries++
		dm.logger.Info("Starting database reconnect", "try", dm.reconnectTries)

		select {
		case <-ctx.Done():
			return
		case <-time.After(dm.config.ReconnectInterval):
		}
		reconnectCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
		err := dm.Reconnect(reconnectCtx)
		cancel()
		if err != nil {
			dm.logger.Error("Reconnect failed", "error", err, "try", dm.reconnectTries)
			continue
		}
		dm.reconnectTries = 0
		dm.logger.Info("Reconnect succeeded")
	}
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	sqlDB := dm.GetSQLDB()
	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) Capabilities() Capabilities {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.capabilities
}

// CreateTables creates the tables of all registered models.
func (dm *defaultDatabaseManager) CreateTables(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return errors.New("database not connected")
	}
	if err := CreateTables(ctx, db); err != nil {
		return err
	}
	dm.logger.Info("Database tables created", "models", len(RegisteredModels()))
	return nil
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if logger == nil {
		logger = NopLogger()
	}
	dm.logger = logger
}
