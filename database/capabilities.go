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
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/feature"
)

// Capabilities are the optional dialect features repository operations rely on.
type Capabilities struct {
	// Returning means INSERT/UPDATE/DELETE can return the affected rows.
	Returning bool
	// OnConflict means INSERT ... ON CONFLICT (...) DO UPDATE / DO NOTHING.
	OnConflict bool
	// OnDuplicateKey means INSERT ... ON DUPLICATE KEY UPDATE.
	OnDuplicateKey bool
	// AdvisoryLocks means named locks are held by the database server.
	AdvisoryLocks bool
}

// CapabilitiesOf derives the capabilities of the dialect db is bound to.
func CapabilitiesOf(db bun.IDB) Capabilities {
	d := db.Dialect()
	f := d.Features()
	return Capabilities{
		Returning:      f.Has(feature.Returning),
		OnConflict:     f.Has(feature.InsertOnConflict),
		OnDuplicateKey: f.Has(feature.InsertOnDuplicateKey),
		AdvisoryLocks:  d.Name() == dialect.PG,
	}
}

// Upsert reports whether conflict handling of either form is available.
func (c Capabilities) Upsert() bool {
	return c.OnConflict || c.OnDuplicateKey
}

func (c Capabilities) String() string {
	var parts []string
	for _, p := range []struct {
		name string
		on   bool
	}{
		{"returning", c.Returning},
		{"on_conflict", c.OnConflict},
		{"on_duplicate_key", c.OnDuplicateKey},
		{"advisory_locks", c.AdvisoryLocks},
	} {
		if p.on {
			parts = append(parts, p.name)
		}
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, " "))
}
