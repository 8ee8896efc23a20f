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

	"github.com/tomoncle/quarry/types"
)

// Order is one ORDER BY term.
type Order struct {
	Column    string
	Direction types.Direction
}

func Asc(column string) Order { return Order{Column: column, Direction: types.Asc} }

func Desc(column string) Order { return Order{Column: column, Direction: types.Desc} }

// Reverse returns the term with the opposite direction.
func (o Order) Reverse() Order {
	return Order{Column: o.Column, Direction: o.Direction.Reverse()}
}

func (o Order) String() string {
	return o.Column + " " + o.Direction.String()
}

// ParseOrder parses "name", "name DESC" or "-name".
func ParseOrder(s string) (Order, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return Desc(strings.TrimSpace(s[1:])), nil
	}
	col, dir, _ := strings.Cut(s, " ")
	d, ok := types.ParseDirection(dir)
	if !ok || col == "" {
		return Order{}, types.NewSchemaError("", s, "invalid order term")
	}
	return Order{Column: col, Direction: d}, nil
}

// ParseOrders parses a comma separated list of order terms.
func ParseOrders(s string) ([]Order, error) {
	var out []Order
	for _, term := range strings.Split(s, ",") {
		if strings.TrimSpace(term) == "" {
			continue
		}
		o, err := ParseOrder(term)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
