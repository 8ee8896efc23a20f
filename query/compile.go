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
	"strings"

	"github.com/pkg/errors"
	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
)

// everything matches; Bun refuses UPDATE and DELETE without a WHERE clause.
const matchAll = "1 = 1"

func (d *Descriptor) expect(verbs ...Verb) error {
	if d.err != nil {
		return d.err
	}
	for _, v := range verbs {
		if d.verb == v {
			return nil
		}
	}
	return errors.Errorf("query: %s descriptor cannot build %s", d.verb, verbs[len(verbs)-1])
}

// SelectQuery compiles the descriptor into a SELECT scanning into dest.
// A nil dest selects into the entity model.
func (d *Descriptor) SelectQuery(db bun.IDB, dest any) (*bun.SelectQuery, error) {
	if err := d.expect(VerbNone, VerbSelect); err != nil {
		return nil, err
	}
	if dest == nil {
		dest = d.entity.NilModel()
	}
	q, err := d.baseSelect(db, dest)
	if err != nil {
		return nil, err
	}
	if len(d.columns) > 0 {
		q = q.Column(d.columns...)
	}
	for _, o := range d.Ordering() {
		q = q.OrderExpr(d.entity.qualified(o.Column) + " " + o.Direction.String())
	}
	if d.limit > 0 {
		q = q.Limit(d.limit)
	}
	if d.offset > 0 {
		q = q.Offset(d.offset)
	}
	return q, nil
}

// CountQuery compiles the descriptor into a SELECT suitable for Count: the
// same joins and filter without ordering, limit or offset.
func (d *Descriptor) CountQuery(db bun.IDB) (*bun.SelectQuery, error) {
	if err := d.expect(VerbNone, VerbSelect); err != nil {
		return nil, err
	}
	return d.baseSelect(db, d.entity.NilModel())
}

func (d *Descriptor) baseSelect(db bun.IDB, dest any) (*bun.SelectQuery, error) {
	q := db.NewSelect().Model(dest)
	for _, j := range d.joins {
		q = q.Join(j.kind+" "+j.target+" ON "+j.on, j.args...)
	}
	if len(d.conds) > 0 {
		where, args, err := compileConditions(d.entity, d.conds, true)
		if err != nil {
			return nil, err
		}
		q = q.Where(where, args...)
	}
	return q, nil
}

// InsertQuery compiles an INSERT or UPSERT. It also returns the models built
// from the rows as a *[]*T; Bun fills generated keys into them where the
// driver reports them.
func (d *Descriptor) InsertQuery(db bun.IDB, caps database.Capabilities) (*bun.InsertQuery, any, error) {
	if err := d.expect(VerbInsert, VerbUpsert); err != nil {
		return nil, nil, err
	}
	if d.verb == VerbUpsert && !caps.Upsert() {
		return nil, nil, &types.UnsupportedOperationError{Operation: "upsert", Capability: "supports_on_conflict"}
	}
	models, err := d.entity.newModels(d.rows)
	if err != nil {
		return nil, nil, err
	}
	q := db.NewInsert().Model(models)
	if len(d.rowKeys) > 0 {
		q = q.Column(d.rowKeys...)
	}
	switch {
	case d.verb == VerbUpsert:
		q, err = applyConflict(q, d.entity, d.conflict, d.UpsertSet(), caps)
	case d.ignore && caps.Upsert():
		q, err = applyConflict(q, d.entity, d.conflict, nil, caps)
	}
	if err != nil {
		return nil, nil, err
	}
	if d.returning && caps.Returning {
		q = q.Returning(d.returningList())
	}
	return q, models, nil
}

// UpdateQuery compiles an UPDATE of the rows matching the filter.
func (d *Descriptor) UpdateQuery(db bun.IDB, caps database.Capabilities) (*bun.UpdateQuery, error) {
	if err := d.expect(VerbUpdate); err != nil {
		return nil, err
	}
	q := db.NewUpdate().Model(d.entity.NilModel())
	for _, k := range d.assignments.Keys() {
		q = q.Set(d.entity.sqlName(k)+" = ?", d.assignments[k])
	}
	where, args, err := d.mutationWhere()
	if err != nil {
		return nil, err
	}
	q = q.Where(where, args...)
	if d.returning && caps.Returning {
		q = q.Returning(d.returningList())
	}
	return q, nil
}

// DeleteQuery compiles a DELETE of the rows matching the filter.
func (d *Descriptor) DeleteQuery(db bun.IDB, caps database.Capabilities) (*bun.DeleteQuery, error) {
	if err := d.expect(VerbDelete); err != nil {
		return nil, err
	}
	where, args, err := d.mutationWhere()
	if err != nil {
		return nil, err
	}
	q := db.NewDelete().Model(d.entity.NilModel()).Where(where, args...)
	if d.returning && caps.Returning {
		q = q.Returning(d.returningList())
	}
	return q, nil
}

// mutationWhere renders the filter with unqualified columns; not every
// dialect aliases the target table of UPDATE and DELETE.
func (d *Descriptor) mutationWhere() (string, []any, error) {
	if len(d.conds) == 0 {
		return matchAll, nil, nil
	}
	return compileConditions(d.entity, d.conds, false)
}

func (d *Descriptor) returningList() string {
	if len(d.columns) == 0 {
		return "*"
	}
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = d.entity.sqlName(c)
	}
	return strings.Join(names, ", ")
}
