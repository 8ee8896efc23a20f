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
	"reflect"
	"slices"

	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// DefaultOrderer is implemented by models that declare the order every
// SELECT inherits unless it orders explicitly.
type DefaultOrderer interface {
	DefaultOrder() []Order
}

// ConflictTargeter is implemented by models whose upserts target something
// other than the primary key.
type ConflictTargeter interface {
	OnConflict() OnConflict
}

// Entity is the resolved metadata of one Bun model: its table, columns,
// primary key, default ordering and conflict target.
type Entity struct {
	name         string
	typ          reflect.Type
	table        *schema.Table
	columns      []string
	pks          []string
	fields       map[string]*schema.Field
	defaultOrder []Order
	onConflict   OnConflict
}

// EntityOption customizes an Entity at resolution time.
type EntityOption func(*entityOptions)

type entityOptions struct {
	order    []Order
	hasOrder bool
	conflict *OnConflict
}

// WithDefaultOrder overrides the model's default ordering.
func WithDefaultOrder(orders ...Order) EntityOption {
	return func(o *entityOptions) {
		o.order = slices.Clone(orders)
		o.hasOrder = true
	}
}

// WithConflictTarget overrides the model's conflict target.
func WithConflictTarget(c OnConflict) EntityOption {
	return func(o *entityOptions) {
		o.conflict = &c
	}
}

// EntityOf resolves the entity of model type T for the dialect db is bound to.
func EntityOf[T any](db bun.IDB, opts ...EntityOption) (*Entity, error) {
	return NewEntity(db, reflect.TypeOf((*T)(nil)).Elem(), opts...)
}

// NewEntity resolves the entity of the struct type typ. Models without
// columns or without a primary key are rejected with a SchemaError.
func NewEntity(db bun.IDB, typ reflect.Type, opts ...EntityOption) (*Entity, error) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, types.NewSchemaError(typ.String(), "", "model must be a struct")
	}

	table := db.Dialect().Tables().Get(typ)
	e := &Entity{
		name:   typ.Name(),
		typ:    typ,
		table:  table,
		fields: make(map[string]*schema.Field, len(table.Fields)),
	}
	for _, f := range table.Fields {
		e.columns = append(e.columns, f.Name)
		e.fields[f.Name] = f
	}
	for _, f := range table.PKs {
		e.pks = append(e.pks, f.Name)
	}
	if len(e.columns) == 0 {
		return nil, types.NewSchemaError(e.name, "", "entity has no columns")
	}
	if len(e.pks) == 0 {
		return nil, types.NewSchemaError(e.name, "", "entity has no primary key")
	}

	o := entityOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	model := reflect.New(typ).Interface()
	switch {
	case o.hasOrder:
		e.defaultOrder = o.order
	default:
		if d, ok := model.(DefaultOrderer); ok {
			e.defaultOrder = slices.Clone(d.DefaultOrder())
		}
	}
	for _, ord := range e.defaultOrder {
		if err := e.check(ord.Column); err != nil {
			return nil, err
		}
	}

	switch {
	case o.conflict != nil:
		e.onConflict = o.conflict.clone()
	default:
		if c, ok := model.(ConflictTargeter); ok {
			e.onConflict = c.OnConflict().clone()
		} else {
			e.onConflict = e.defaultConflict()
		}
	}
	if len(e.onConflict.IndexElements) == 0 {
		e.onConflict.IndexElements = slices.Clone(e.pks)
	}
	for _, c := range append(slices.Clone(e.onConflict.IndexElements), e.onConflict.Set...) {
		if err := e.check(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Name returns the Go type name of the model.
func (e *Entity) Name() string { return e.name }

// Table returns the Bun table metadata.
func (e *Entity) Table() *schema.Table { return e.table }

// Type returns the model struct type.
func (e *Entity) Type() reflect.Type { return e.typ }

// Columns returns the column names in declaration order.
func (e *Entity) Columns() []string { return slices.Clone(e.columns) }

// PrimaryKey returns the primary key column names.
func (e *Entity) PrimaryKey() []string { return slices.Clone(e.pks) }

// DefaultOrder returns the ordering SELECTs inherit.
func (e *Entity) DefaultOrder() []Order { return slices.Clone(e.defaultOrder) }

// OnConflict returns the conflict target upserts use by default.
func (e *Entity) OnConflict() OnConflict { return e.onConflict.clone() }

// HasColumn reports whether column belongs to the entity.
func (e *Entity) HasColumn(column string) bool {
	_, ok := e.fields[column]
	return ok
}

// IsPrimaryKey reports whether column is part of the primary key.
func (e *Entity) IsPrimaryKey(column string) bool {
	return slices.Contains(e.pks, column)
}

// FieldType returns the Go type of column.
func (e *Entity) FieldType(column string) (reflect.Type, error) {
	f, ok := e.fields[column]
	if !ok {
		return nil, e.unknown(column)
	}
	return f.StructField.Type, nil
}

// FieldValue reads column from model, a pointer to the entity struct.
func (e *Entity) FieldValue(model any, column string) (any, error) {
	f, ok := e.fields[column]
	if !ok {
		return nil, e.unknown(column)
	}
	v := reflect.ValueOf(model)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, types.NewSchemaError(e.name, column, "nil model")
		}
		v = v.Elem()
	}
	if v.Type() != e.typ {
		return nil, types.NewSchemaError(e.name, column, "model of type "+v.Type().String())
	}
	return v.FieldByIndex(f.Index).Interface(), nil
}

// NilModel returns a typed nil pointer to the model, as Bun expects for
// statements that do not scan into a model.
func (e *Entity) NilModel() any {
	return reflect.Zero(reflect.PointerTo(e.typ)).Interface()
}

// sqlName returns the quoted column name.
func (e *Entity) sqlName(column string) string {
	return string(e.fields[column].SQLName)
}

// qualified returns the column quoted and prefixed with the table alias.
func (e *Entity) qualified(column string) string {
	return string(e.table.SQLAlias) + "." + e.sqlName(column)
}

func (e *Entity) check(column string) error {
	if _, ok := e.fields[column]; !ok {
		return e.unknown(column)
	}
	return nil
}

func (e *Entity) unknown(column string) error {
	return types.NewSchemaError(e.name, column, "unknown column")
}

func (e *Entity) defaultConflict() OnConflict {
	c := OnConflict{IndexElements: slices.Clone(e.pks)}
	for _, col := range e.columns {
		if !e.IsPrimaryKey(col) {
			c.Set = append(c.Set, col)
		}
	}
	return c
}
