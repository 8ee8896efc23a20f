// Package database provides connection management, dialect capabilities,
// configuration, logging, query hooks, table creation for registered models,
// named locks and driver error classification built on top of Bun.
package database
