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
	"sort"
	"strings"

	"github.com/uptrace/bun"
)

// Condition is a boolean SQL expression over the columns of an entity.
type Condition interface {
	// appendSQL renders the condition with ? placeholders. Columns are
	// prefixed with the table alias when qualify is set.
	appendSQL(b *strings.Builder, args []any, e *Entity, qualify bool) ([]any, error)
}

type comparison struct {
	column string
	op     string
	value  any
}

func (c comparison) appendSQL(b *strings.Builder, args []any, e *Entity, qualify bool) ([]any, error) {
	if err := e.check(c.column); err != nil {
		return nil, err
	}
	writeColumn(b, e, c.column, qualify)
	b.WriteString(" " + c.op + " ?")
	return append(args, c.value), nil
}

func Eq(column string, value any) Condition { return comparison{column, "=", value} }

func Ne(column string, value any) Condition { return comparison{column, "<>", value} }

func Gt(column string, value any) Condition { return comparison{column, ">", value} }

func Gte(column string, value any) Condition { return comparison{column, ">=", value} }

func Lt(column string, value any) Condition { return comparison{column, "<", value} }

func Lte(column string, value any) Condition { return comparison{column, "<=", value} }

func Like(column string, pattern string) Condition { return comparison{column, "LIKE", pattern} }

type membership struct {
	column string
	not    bool
	values any
}

func (c membership) appendSQL(b *strings.Builder, args []any, e *Entity, qualify bool) ([]any, error) {
	if err := e.check(c.column); err != nil {
		return nil, err
	}
	writeColumn(b, e, c.column, qualify)
	if c.not {
		b.WriteString(" NOT IN (?)")
	} else {
		b.WriteString(" IN (?)")
	}
	return append(args, bun.In(c.values)), nil
}

// In matches rows whose column is one of values, which must be a slice.
func In(column string, values any) Condition { return membership{column: column, values: values} }

func NotIn(column string, values any) Condition {
	return membership{column: column, not: true, values: values}
}

type nullCheck struct {
	column string
	not    bool
}

func (c nullCheck) appendSQL(b *strings.Builder, args []any, e *Entity, qualify bool) ([]any, error) {
	if err := e.check(c.column); err != nil {
		return nil, err
	}
	writeColumn(b, e, c.column, qualify)
	if c.not {
		b.WriteString(" IS NOT NULL")
	} else {
		b.WriteString(" IS NULL")
	}
	return args, nil
}

func IsNull(column string) Condition { return nullCheck{column: column} }

func IsNotNull(column string) Condition { return nullCheck{column: column, not: true} }

type group struct {
	op    string
	conds []Condition
}

func (g group) appendSQL(b *strings.Builder, args []any, e *Entity, qualify bool) ([]any, error) {
	if len(g.conds) == 0 {
		// empty AND is true, empty OR is false
		if g.op == "AND" {
			b.WriteString("1 = 1")
		} else {
			b.WriteString("1 = 0")
		}
		return args, nil
	}
	b.WriteByte('(')
	var err error
	for i, c := range g.conds {
		if i > 0 {
			b.WriteString(" " + g.op + " ")
		}
		if args, err = c.appendSQL(b, args, e, qualify); err != nil {
			return nil, err
		}
	}
	b.WriteByte(')')
	return args, nil
}

func And(conds ...Condition) Condition { return group{op: "AND", conds: conds} }

func Or(conds ...Condition) Condition { return group{op: "OR", conds: conds} }

type raw struct {
	sql  string
	args []any
}

func (r raw) appendSQL(b *strings.Builder, args []any, _ *Entity, _ bool) ([]any, error) {
	b.WriteByte('(')
	b.WriteString(r.sql)
	b.WriteByte(')')
	return append(args, r.args...), nil
}

// Raw is an SQL fragment with ? placeholders, passed to Bun unchecked.
// Bun placeholders such as ?TableAlias are available.
func Raw(sql string, args ...any) Condition { return raw{sql: sql, args: args} }

// Values maps column names to values: a row to insert, assignments for an
// update or keyword equalities for a filter.
type Values map[string]any

// Keys returns the column names sorted.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Conditions turns v into equalities, IS NULL for nil values, in key order.
func (v Values) Conditions() []Condition {
	out := make([]Condition, 0, len(v))
	for _, k := range v.Keys() {
		if v[k] == nil {
			out = append(out, IsNull(k))
		} else {
			out = append(out, Eq(k, v[k]))
		}
	}
	return out
}

func (v Values) clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func writeColumn(b *strings.Builder, e *Entity, column string, qualify bool) {
	if qualify {
		b.WriteString(e.qualified(column))
	} else {
		b.WriteString(e.sqlName(column))
	}
}

// compileConditions renders conds as one conjunction.
func compileConditions(e *Entity, conds []Condition, qualify bool) (string, []any, error) {
	var b strings.Builder
	var args []any
	var err error
	for i, c := range conds {
		if i > 0 {
			b.WriteString(" AND ")
		}
		if args, err = c.appendSQL(&b, args, e, qualify); err != nil {
			return "", nil, err
		}
	}
	return b.String(), args, nil
}

func validate(e *Entity, conds []Condition) error {
	_, _, err := compileConditions(e, conds, false)
	return err
}
