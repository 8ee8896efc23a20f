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
	"os"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// CreateTables creates a table for every model that does not have one yet,
// in the given order. With no models, the registered models are used.
// Set QUARRY_DEBUG_SCHEMA to see the DDL through the query hooks.
func CreateTables(ctx context.Context, db bun.IDB, models ...interface{}) error {
	if len(models) == 0 {
		models = RegisteredModelInstances()
	}
	if _, ok := os.LookupEnv("QUARRY_DEBUG_SCHEMA"); !ok {
		SilenceQueryHooks(true)
		defer SilenceQueryHooks(false)
	}
	for _, model := range models {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to create table %T", model)
		}
	}
	return nil
}

// DropTables drops the tables of models in reverse order, ignoring missing
// tables. With no models, the registered models are used.
func DropTables(ctx context.Context, db bun.IDB, models ...interface{}) error {
	if len(models) == 0 {
		models = RegisteredModelInstances()
	}
	for i := len(models) - 1; i >= 0; i-- {
		_, err := db.NewDropTable().
			Model(models[i]).
			IfExists().
			Exec(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to drop table %T", models[i])
		}
	}
	return nil
}
