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

package pagination

import (
	"context"
	"strings"

	"github.com/tomoncle/quarry/database"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
)

// Strategy fetches one page of the rows a read descriptor selects.
type Strategy[T any] interface {
	Paginate(ctx context.Context, db bun.IDB, d *query.Descriptor, req *types.PageRequest) (types.Page[T], error)
	Kind() Kind
}

// Kind names a pagination strategy.
type Kind int

const (
	KindToken Kind = iota
	KindNumbered
)

var _ types.BaseEnum = Kind(0)

func (k Kind) IsValid() bool { return k == KindToken || k == KindNumbered }

func (k Kind) Number() int {
	if !k.IsValid() {
		return types.IllegalValue
	}
	return int(k)
}

func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindNumbered:
		return "numbered"
	default:
		return types.IllegalName
	}
}

func (k Kind) Name() string { return k.String() }

func (k Kind) Desc() string {
	switch k {
	case KindToken:
		return "keyset pagination with opaque tokens"
	case KindNumbered:
		return "offset pagination with page numbers"
	default:
		return types.IllegalDesc
	}
}

// ParseKind accepts "token" and "numbered", case-insensitively.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "token", "keyset", "":
		return KindToken, true
	case "numbered", "offset":
		return KindNumbered, true
	default:
		return Kind(types.IllegalValue), false
	}
}

// Limits bounds the page size of a request.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

// LimitsOf converts the pagination section of the configuration.
func LimitsOf(c database.PaginationConfig) Limits {
	return Limits{DefaultPageSize: c.DefaultPageSize, MaxPageSize: c.MaxPageSize}
}

// size resolves the page size of req: the request's own, else the default,
// never above the maximum.
func (l Limits) size(req *types.PageRequest) int {
	if l.DefaultPageSize > 0 {
		req = req.WithDefaultPageSize(l.DefaultPageSize)
	}
	n := req.GetPageSize()
	if l.MaxPageSize > 0 && n > l.MaxPageSize {
		n = l.MaxPageSize
	}
	return n
}

// New returns the strategy of the given kind. A nil logger means the
// global one.
func New[T any](kind Kind, limits Limits, log database.Logger) Strategy[T] {
	if kind == KindNumbered {
		return &Numbered[T]{Limits: limits, Logger: log}
	}
	return &Keyset[T]{Limits: limits, Logger: log}
}

func readable(d *query.Descriptor) error {
	if d.Err() != nil {
		return d.Err()
	}
	if !d.Verb().Reads() {
		return &types.UnsupportedOperationError{Operation: "paginate " + d.Verb().String(), Capability: "select"}
	}
	return nil
}

func logger(l database.Logger) database.Logger {
	if l == nil {
		return database.GetLogger()
	}
	return l
}
