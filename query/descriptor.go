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

package query

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/tomoncle/quarry/types"
)

// Verb is the kind of statement a Descriptor builds.
type Verb int

const (
	VerbNone Verb = iota
	VerbSelect
	VerbInsert
	VerbUpdate
	VerbDelete
	VerbUpsert
)

func (v Verb) String() string {
	switch v {
	case VerbSelect:
		return "SELECT"
	case VerbInsert:
		return "INSERT"
	case VerbUpdate:
		return "UPDATE"
	case VerbDelete:
		return "DELETE"
	case VerbUpsert:
		return "UPSERT"
	default:
		return "NONE"
	}
}

// Reads reports whether the verb is a SELECT, which a descriptor without a
// verb defaults to.
func (v Verb) Reads() bool { return v == VerbNone || v == VerbSelect }

type join struct {
	kind   string
	target string
	on     string
	args   []any
}

// Descriptor describes one statement against one entity. It is immutable:
// every builder method returns a new Descriptor and leaves the receiver
// untouched, so partially built descriptors can be shared and reused.
//
// The first invalid call, such as a reference to an unknown column, is
// recorded and returned by Err and by every compile method; later builder
// calls are then no-ops.
type Descriptor struct {
	entity      *Entity
	verb        Verb
	columns     []string
	rows        []Values
	rowKeys     []string
	assignments Values
	conds       []Condition
	joins       []join
	orders      []Order
	hasOrder    bool
	limit       int
	offset      int
	ignore      bool
	conflict    OnConflict
	set         []string
	hasSet      bool
	returning   bool
	err         error
}

// New returns an empty descriptor for e. It builds a SELECT of every column
// in the entity's default order.
func New(e *Entity) *Descriptor {
	return &Descriptor{entity: e, conflict: e.OnConflict()}
}

// clone copies d with every slice clipped so appends on the copy never
// write into memory shared with d.
func (d *Descriptor) clone() *Descriptor {
	c := *d
	c.columns = slices.Clip(d.columns)
	c.rows = slices.Clip(d.rows)
	c.conds = slices.Clip(d.conds)
	c.joins = slices.Clip(d.joins)
	c.orders = slices.Clip(d.orders)
	c.set = slices.Clip(d.set)
	return &c
}

func (d *Descriptor) fail(err error) *Descriptor {
	c := d.clone()
	if c.err == nil {
		c.err = err
	}
	return c
}

func (d *Descriptor) Entity() *Entity { return d.entity }

func (d *Descriptor) Verb() Verb { return d.verb }

// Err returns the first build error.
func (d *Descriptor) Err() error { return d.err }

// Projection returns the selected columns, every entity column by default.
func (d *Descriptor) Projection() []string {
	if len(d.columns) == 0 {
		return d.entity.Columns()
	}
	return slices.Clone(d.columns)
}

// Ordering returns the explicit ordering or, without one, the entity's
// default ordering.
func (d *Descriptor) Ordering() []Order {
	if d.hasOrder {
		return slices.Clone(d.orders)
	}
	return d.entity.DefaultOrder()
}

func (d *Descriptor) Conditions() []Condition { return slices.Clone(d.conds) }

// Rows returns the values of an INSERT or UPSERT.
func (d *Descriptor) Rows() []Values {
	out := make([]Values, len(d.rows))
	for i, r := range d.rows {
		out[i] = r.clone()
	}
	return out
}

func (d *Descriptor) LimitValue() int { return d.limit }

func (d *Descriptor) OffsetValue() int { return d.offset }

func (d *Descriptor) IsReturning() bool { return d.returning }

// Select restricts the projection to columns. Without columns every entity
// column is selected.
func (d *Descriptor) Select(columns ...string) *Descriptor {
	if d.err != nil {
		return d
	}
	for _, c := range columns {
		if err := d.entity.check(c); err != nil {
			return d.fail(err)
		}
	}
	c := d.clone()
	c.verb = VerbSelect
	c.columns = slices.Clone(columns)
	return c
}

// Filter adds conditions. All conditions of a descriptor are ANDed.
func (d *Descriptor) Filter(conds ...Condition) *Descriptor {
	if d.err != nil || len(conds) == 0 {
		return d
	}
	if err := validate(d.entity, conds); err != nil {
		return d.fail(err)
	}
	c := d.clone()
	c.conds = append(c.conds, conds...)
	return c
}

// Where is an alias of Filter.
func (d *Descriptor) Where(conds ...Condition) *Descriptor {
	return d.Filter(conds...)
}

// FilterBy adds one equality per key of v.
func (d *Descriptor) FilterBy(v Values) *Descriptor {
	return d.Filter(v.Conditions()...)
}

// Join adds an inner join. target and on are SQL, on may use ? placeholders.
func (d *Descriptor) Join(target, on string, args ...any) *Descriptor {
	return d.addJoin("JOIN", target, on, args)
}

// LeftJoin adds a left outer join.
func (d *Descriptor) LeftJoin(target, on string, args ...any) *Descriptor {
	return d.addJoin("LEFT JOIN", target, on, args)
}

func (d *Descriptor) addJoin(kind, target, on string, args []any) *Descriptor {
	if d.err != nil {
		return d
	}
	if target == "" || on == "" {
		return d.fail(types.NewSchemaError(d.entity.name, "", "join needs a target and a condition"))
	}
	c := d.clone()
	c.joins = append(c.joins, join{kind: kind, target: target, on: on, args: slices.Clone(args)})
	return c
}

// OrderBy replaces the ordering. Calling it without orders removes the
// default ordering too.
func (d *Descriptor) OrderBy(orders ...Order) *Descriptor {
	if d.err != nil {
		return d
	}
	for _, o := range orders {
		if err := d.entity.check(o.Column); err != nil {
			return d.fail(err)
		}
		if !o.Direction.IsValid() {
			return d.fail(types.NewSchemaError(d.entity.name, o.Column, "invalid direction"))
		}
	}
	c := d.clone()
	c.orders = slices.Clone(orders)
	c.hasOrder = true
	return c
}

// Limit caps the number of rows; zero or less means no limit.
func (d *Descriptor) Limit(n int) *Descriptor {
	if d.err != nil {
		return d
	}
	c := d.clone()
	c.limit = max(n, 0)
	return c
}

func (d *Descriptor) Offset(n int) *Descriptor {
	if d.err != nil {
		return d
	}
	c := d.clone()
	c.offset = max(n, 0)
	return c
}

// InsertOption configures Insert.
type InsertOption func(*Descriptor)

// IgnoreConflicts leaves rows that conflict on the conflict target untouched.
// It has no effect on dialects without conflict clauses.
func IgnoreConflicts() InsertOption {
	return func(d *Descriptor) { d.ignore = true }
}

// Insert builds an INSERT of rows. Every row must have the same keys.
func (d *Descriptor) Insert(rows []Values, opts ...InsertOption) *Descriptor {
	if d.err != nil {
		return d
	}
	keys, err := d.checkRows(rows)
	if err != nil {
		return d.fail(err)
	}
	c := d.clone()
	c.verb = VerbInsert
	c.rows = cloneRows(rows)
	c.rowKeys = keys
	c.ignore = false
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upsert builds an INSERT of rows that overwrites set on conflict. Without
// set, the conflict target's set is used, narrowed for a single row to the
// row's keys outside the primary key. An empty resulting set leaves
// conflicting rows untouched.
func (d *Descriptor) Upsert(rows []Values, set ...string) *Descriptor {
	if d.err != nil {
		return d
	}
	keys, err := d.checkRows(rows)
	if err != nil {
		return d.fail(err)
	}
	for _, s := range set {
		if err := d.entity.check(s); err != nil {
			return d.fail(err)
		}
	}
	c := d.clone()
	c.verb = VerbUpsert
	c.rows = cloneRows(rows)
	c.rowKeys = keys
	c.set = slices.Clone(set)
	c.hasSet = set != nil
	return c
}

// OnConflict replaces the conflict target for this descriptor.
func (d *Descriptor) OnConflict(target OnConflict) *Descriptor {
	if d.err != nil {
		return d
	}
	for _, col := range append(slices.Clone(target.IndexElements), target.Set...) {
		if err := d.entity.check(col); err != nil {
			return d.fail(err)
		}
	}
	c := d.clone()
	c.conflict = target.clone()
	if len(c.conflict.IndexElements) == 0 {
		c.conflict.IndexElements = d.entity.PrimaryKey()
	}
	return c
}

// ConflictTarget returns the conflict target in effect.
func (d *Descriptor) ConflictTarget() OnConflict { return d.conflict.clone() }

// UpsertSet returns the columns an UPSERT overwrites on conflict.
func (d *Descriptor) UpsertSet() []string {
	switch {
	case d.hasSet:
		return slices.Clone(d.set)
	case len(d.rows) == 1:
		var out []string
		for _, k := range d.rowKeys {
			if !d.entity.IsPrimaryKey(k) {
				out = append(out, k)
			}
		}
		return out
	default:
		return slices.Clone(d.conflict.Set)
	}
}

// Update builds an UPDATE assigning values to the rows matching the filter.
func (d *Descriptor) Update(values Values) *Descriptor {
	if d.err != nil {
		return d
	}
	if len(values) == 0 {
		return d.fail(errors.New("query: update without values"))
	}
	for _, k := range values.Keys() {
		if err := d.entity.check(k); err != nil {
			return d.fail(err)
		}
	}
	c := d.clone()
	c.verb = VerbUpdate
	c.assignments = values.clone()
	return c
}

// Delete builds a DELETE of the rows matching the filter.
func (d *Descriptor) Delete() *Descriptor {
	if d.err != nil {
		return d
	}
	c := d.clone()
	c.verb = VerbDelete
	return c
}

// Returning asks INSERT, UPDATE and DELETE statements to return the affected
// rows where the dialect can.
func (d *Descriptor) Returning() *Descriptor {
	if d.err != nil {
		return d
	}
	c := d.clone()
	c.returning = true
	return c
}

func (d *Descriptor) checkRows(rows []Values) ([]string, error) {
	if len(rows) == 0 {
		return nil, errors.New("query: insert without rows")
	}
	keys := rows[0].Keys()
	for _, k := range keys {
		if err := d.entity.check(k); err != nil {
			return nil, err
		}
	}
	for _, r := range rows[1:] {
		if !slices.Equal(keys, r.Keys()) {
			return nil, types.NewSchemaError(d.entity.name, "", "rows have different columns")
		}
	}
	return keys, nil
}

func cloneRows(rows []Values) []Values {
	out := make([]Values, len(rows))
	for i, r := range rows {
		out[i] = r.clone()
	}
	return out
}
