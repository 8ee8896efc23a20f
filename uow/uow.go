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

package uow

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/repository"
	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
)

type state int

const (
	idle state = iota
	active
	finished
)

// Options configures a unit of work.
type Options struct {
	// RaiseOnError makes Exit return a failed commit. Otherwise the failure
	// is logged and Exit returns nil.
	RaiseOnError bool
	// Autocommit makes Exit commit when no error is in flight. Without it the
	// transaction is rolled back unless Commit was called.
	Autocommit bool
	TxOptions  *sql.TxOptions
	Logger     database.Logger
}

type Option func(*Options)

func WithRaiseOnError(raise bool) Option {
	return func(o *Options) { o.RaiseOnError = raise }
}

func WithAutocommit(autocommit bool) Option {
	return func(o *Options) { o.Autocommit = autocommit }
}

func WithTxOptions(opts *sql.TxOptions) Option {
	return func(o *Options) { o.TxOptions = opts }
}

func WithLogger(l database.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// UnitOfWork scopes repositories to one transaction. Repositories are built
// lazily on first access and cached until Exit, so every repository of one
// unit of work shares its transaction. A UnitOfWork is not safe for
// concurrent use.
type UnitOfWork struct {
	db     *bun.DB
	opts   Options
	logger database.Logger

	state state
	tx    bun.Tx
	repos map[reflect.Type]any
}

// New returns a unit of work over db. It does nothing until Enter.
func New(db *bun.DB, opts ...Option) *UnitOfWork {
	o := Options{RaiseOnError: true, Autocommit: true}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = database.GetLogger()
	}
	return &UnitOfWork{db: db, opts: o, logger: logger}
}

// Enter begins the transaction. Cancelling ctx aborts the statements run in
// it but not the transaction itself; Exit always ends it.
func (u *UnitOfWork) Enter(ctx context.Context) error {
	if u.state != idle {
		return &types.StateError{Reason: "unit of work already entered"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := u.db.BeginTx(context.WithoutCancel(ctx), u.opts.TxOptions)
	if err != nil {
		return errors.Wrap(err, "begin unit of work")
	}
	u.tx = tx
	u.state = active
	u.repos = make(map[reflect.Type]any)
	return nil
}

// Session returns the transaction repositories of this unit of work run on.
func (u *UnitOfWork) Session() (bun.IDB, error) {
	if err := u.check(); err != nil {
		return nil, err
	}
	return u.tx, nil
}

// Commit commits the transaction. On failure it is rolled back and the error
// is returned only with RaiseOnError, otherwise logged. Either way the unit
// of work is finished and only Exit remains.
func (u *UnitOfWork) Commit() error {
	if err := u.check(); err != nil {
		return err
	}
	u.state = finished
	if err := u.tx.Commit(); err != nil {
		if rbErr := u.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			u.logger.Error("Failed to rollback transaction", "error", rbErr)
		}
		if u.opts.RaiseOnError {
			return errors.Wrap(err, "commit unit of work")
		}
		u.logger.Warn("Unit of work commit failed", "error", err)
	}
	return nil
}

// Rollback rolls the transaction back and finishes the unit of work.
func (u *UnitOfWork) Rollback() error {
	if err := u.check(); err != nil {
		return err
	}
	u.state = finished
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "rollback unit of work")
	}
	return nil
}

// Exit ends the unit of work. With cause set the transaction is rolled back
// and cause is returned. Otherwise it is committed when autocommit is on, with
// commit failures handled as in Commit. The unit of work can be entered again
// afterwards.
func (u *UnitOfWork) Exit(cause error) error {
	if u.state == idle {
		return &types.StateError{Reason: "unit of work not entered"}
	}
	defer u.reset()

	if u.state == finished {
		return cause
	}
	if cause != nil || !u.opts.Autocommit {
		if err := u.Rollback(); err != nil {
			u.logger.Error("Failed to rollback transaction", "error", err)
		}
		return cause
	}
	return u.Commit()
}

// Run enters the unit of work, calls fn and exits with its result. A panic in
// fn rolls the transaction back before it propagates.
func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, u *UnitOfWork) error) (err error) {
	if err = u.Enter(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = u.Exit(fmt.Errorf("panic: %v", p))
			panic(p)
		}
		err = u.Exit(err)
	}()
	return fn(ctx, u)
}

func (u *UnitOfWork) check() error {
	switch u.state {
	case idle:
		return &types.StateError{Reason: "unit of work not entered"}
	case finished:
		return &types.StateError{Reason: "unit of work already committed or rolled back"}
	}
	return nil
}

func (u *UnitOfWork) reset() {
	u.state = idle
	u.tx = bun.Tx{}
	u.repos = nil
}

// Resolve returns the value of type R cached in u, building it with ctor on
// the unit of work's transaction the first time.
func Resolve[R any](u *UnitOfWork, ctor func(db bun.IDB) (R, error)) (R, error) {
	var zero R
	if err := u.check(); err != nil {
		return zero, err
	}
	key := reflect.TypeOf((*R)(nil)).Elem()
	if cached, ok := u.repos[key]; ok {
		return cached.(R), nil
	}
	r, err := ctor(u.tx)
	if err != nil {
		return zero, err
	}
	u.repos[key] = r
	return r, nil
}

// Repo returns the repository of T bound to the unit of work's transaction.
// opts apply only when the repository is first built.
func Repo[T any](u *UnitOfWork, opts ...repository.Option) (*repository.Repository[T], error) {
	return Resolve(u, func(db bun.IDB) (*repository.Repository[T], error) {
		return repository.New[T](db, append([]repository.Option{repository.WithLogger(u.logger)}, opts...)...)
	})
}
