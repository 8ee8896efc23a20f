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
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// LockKey maps a lock name to the signed 64 bit key advisory locks take.
func LockKey(name string) int64 {
	return int64(xxhash.Sum64String(name) & math.MaxInt64)
}

// Lock runs fn while holding the lock called name.
//
// On PostgreSQL the lock is a server side advisory lock, so it excludes other
// processes too. Inside a transaction the transaction scoped variant is used
// and the lock is released at commit or rollback. Other dialects fall back to
// a lock that only excludes callers in this process.
func Lock(ctx context.Context, db bun.IDB, name string, fn func(ctx context.Context) error) error {
	key := LockKey(name)
	if !CapabilitiesOf(db).AdvisoryLocks {
		return localLock(ctx, key, fn)
	}

	switch conn := db.(type) {
	case bun.Tx:
		return xactLock(ctx, conn, key, fn)
	case *bun.Tx:
		return xactLock(ctx, conn, key, fn)
	case *bun.DB:
		c, err := conn.Conn(ctx)
		if err != nil {
			return errors.Wrap(err, "can't acquire connection for advisory lock")
		}
		defer c.Close()
		return sessionLock(ctx, c, key, fn)
	default:
		return sessionLock(ctx, db, key, fn)
	}
}

func xactLock(ctx context.Context, tx bun.IDB, key int64, fn func(ctx context.Context) error) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", key); err != nil {
		return errors.Wrapf(err, "can't take advisory lock %d", key)
	}
	return fn(ctx)
}

func sessionLock(ctx context.Context, conn bun.IDB, key int64, fn func(ctx context.Context) error) (err error) {
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(?)", key); err != nil {
		return errors.Wrapf(err, "can't take advisory lock %d", key)
	}
	defer func() {
		_, unlockErr := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock(?)", key)
		if unlockErr != nil && err == nil {
			err = errors.Wrapf(unlockErr, "can't release advisory lock %d", key)
		}
	}()
	return fn(ctx)
}

type localSlot struct {
	sem  chan struct{}
	refs int
}

// localLocks holds a slot per key while some caller holds or waits for it.
var (
	localMu    sync.Mutex
	localLocks = make(map[int64]*localSlot)
)

func localLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	localMu.Lock()
	slot, ok := localLocks[key]
	if !ok {
		slot = &localSlot{sem: make(chan struct{}, 1)}
		localLocks[key] = slot
	}
	slot.refs++
	localMu.Unlock()

	defer func() {
		localMu.Lock()
		if slot.refs--; slot.refs == 0 {
			delete(localLocks, key)
		}
		localMu.Unlock()
	}()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-slot.sem }()
	return fn(ctx)
}
