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
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

// AbstractDatabaseManager defines the operations for managing a database
// connection, creating registered tables, and reporting health.
type AbstractDatabaseManager interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) *HealthStatus
	GetDB() *bun.DB
	GetSQLDB() *sql.DB
	Capabilities() Capabilities
	CreateTables(ctx context.Context) error
	GetStats() *DBStats
	SetLogger(logger Logger)
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats returned by the manager.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// ConnectionConfig describes how to connect to a database and tune its pool.
type ConnectionConfig struct {
	Type                string        `json:"type" yaml:"type" default:"sqlite"` // postgres, mysql, sqlite
	DSN                 string        `json:"dsn" yaml:"dsn"`                    // overrides the fields below when set
	Host                string        `json:"host" yaml:"host" default:"localhost"`
	Port                int           `json:"port" yaml:"port"`
	Username            string        `json:"username" yaml:"username"`
	Password            string        `json:"password" yaml:"password"`
	DBName              string        `json:"dbname" yaml:"dbname"`
	SSLMode             string        `json:"sslmode" yaml:"sslmode" default:"disable"`
	MaxIdleConns        int           `json:"max_idle_conns" yaml:"max_idle_conns" default:"10"`
	MaxOpenConns        int           `json:"max_open_conns" yaml:"max_open_conns" default:"100"`
	ConnMaxLifetime     time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" default:"1h"`
	ConnMaxIdleTime     time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time" default:"30m"`
	ConnectTimeout      time.Duration `json:"connect_timeout" yaml:"connect_timeout" default:"10s"`
	ReadTimeout         time.Duration `json:"read_timeout" yaml:"read_timeout" default:"30s"`
	WriteTimeout        time.Duration `json:"write_timeout" yaml:"write_timeout" default:"30s"`
	EnableReconnect     bool          `json:"enable_reconnect" yaml:"enable_reconnect" default:"true"`
	ReconnectInterval   time.Duration `json:"reconnect_interval" yaml:"reconnect_interval" default:"5s"`
	MaxReconnectTries   int           `json:"max_reconnect_tries" yaml:"max_reconnect_tries" default:"3"`
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval" default:"5m"`
	EnableQueryLog      bool          `json:"enable_query_log" yaml:"enable_query_log"`
	ColorQueryLog       bool          `json:"color_query_log" yaml:"color_query_log"`
	SlowQueryTime       time.Duration `json:"slow_query_time" yaml:"slow_query_time" default:"2s"`
}

// PaginationConfig carries repository-wide paging defaults.
type PaginationConfig struct {
	DefaultPageSize int `json:"default_page_size" yaml:"default_page_size" default:"100"`
	MaxPageSize     int `json:"max_page_size" yaml:"max_page_size" default:"1000"`
}

// Config aggregates connection and repository settings.
type Config struct {
	ConnectionConfig ConnectionConfig `json:"connection_config" yaml:"connection"`
	PaginationConfig PaginationConfig `json:"pagination_config" yaml:"pagination"`
	CreateTables     bool             `json:"create_tables" yaml:"create_tables"`
}

// DefaultConnectionConfig returns a connection config with sensible defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	cfg := &ConnectionConfig{}
	if err := defaults.Set(cfg); err != nil {
		panic(errors.Wrap(err, "invalid connection config defaults"))
	}
	return cfg
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(errors.Wrap(err, "invalid config defaults"))
	}
	return cfg
}

// LoadConfig reads a YAML configuration file. Fields absent from the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read config file %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration content.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "can't apply config defaults")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "can't parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks constraints the defaults cannot express.
func (c *Config) Validate() error {
	if c.PaginationConfig.DefaultPageSize < 1 {
		return errors.New("pagination.default_page_size must be at least 1")
	}
	if c.PaginationConfig.MaxPageSize < c.PaginationConfig.DefaultPageSize {
		return errors.New("pagination.max_page_size must not be less than default_page_size")
	}
	if c.ConnectionConfig.MaxOpenConns < 0 {
		return errors.New("connection.max_open_conns cannot be negative")
	}
	return nil
}

// LoadDotEnv loads environment variables from .env files so the DB_* overrides
// applied by the factory can come from them. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			GetLogger().Warn("Failed to load env file", "file", f, "error", err)
		}
	}
}
