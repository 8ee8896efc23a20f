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

package types

import "math"

// DefaultPageSize is used when a request carries no positive page size.
const DefaultPageSize = 100

// PageRequest describes which page to fetch. Page is used by numbered
// pagination, Token by token pagination; the other field is ignored.
type PageRequest struct {
	page         int
	pageSize     int
	token        string
	includeTotal bool
}

func (p *PageRequest) GetPageSize() int {
	if p.pageSize < 1 {
		p.pageSize = DefaultPageSize
	}
	return p.pageSize
}

func (p *PageRequest) GetPage() int {
	if p.page < 1 {
		p.page = 1
	}
	return p.page
}

// GetOffset returns the number of rows before the page, math.MaxInt when
// that does not fit an int.
func (p *PageRequest) GetOffset() int {
	page, size := p.GetPage()-1, p.GetPageSize()
	if page > math.MaxInt/size {
		return math.MaxInt
	}
	return page * size
}

func (p *PageRequest) GetToken() string {
	return p.token
}

func (p *PageRequest) IncludeTotal() bool {
	return p.includeTotal
}

// WithDefaultPageSize returns a copy of the request using size when the request
// has no page size of its own.
func (p *PageRequest) WithDefaultPageSize(size int) *PageRequest {
	c := *p
	if c.pageSize < 1 {
		c.pageSize = size
	}
	return &c
}

// NewPageRequest constructs a numbered page request that includes totals.
func NewPageRequest(page int, pageSize int) *PageRequest {
	return &PageRequest{page: page, pageSize: pageSize, includeTotal: true}
}

// NewPageRequestWithoutTotal constructs a numbered page request that skips
// the count query.
func NewPageRequestWithoutTotal(page int, pageSize int) *PageRequest {
	return &PageRequest{page: page, pageSize: pageSize}
}

// NewTokenPageRequest constructs a token page request. An empty token
// requests the first page.
func NewTokenPageRequest(token string, pageSize int) *PageRequest {
	return &PageRequest{page: 1, pageSize: pageSize, token: token}
}

// Page is implemented by every page container.
type Page[T any] interface {
	GetItems() []*T
}

// NumberedPage holds offset paginated items and optional totals.
type NumberedPage[T any] struct {
	Items       []*T `json:"items"`
	CurrentPage int  `json:"current_page"`
	PageSize    int  `json:"page_size"`
	TotalPages  *int `json:"total_pages"`
	TotalItems  *int `json:"total_items"`
}

func (p *NumberedPage[T]) GetItems() []*T { return p.Items }

// NewNumberedPage constructs an empty numbered page.
func NewNumberedPage[T any](page int) *NumberedPage[T] {
	return &NumberedPage[T]{CurrentPage: page, Items: make([]*T, 0)}
}

// TokenPage holds keyset paginated items and the tokens to navigate from them.
type TokenPage[T any] struct {
	Items        []*T    `json:"items"`
	CurrentPage  *string `json:"current_page"`
	NextPage     *string `json:"next_page"`
	PreviousPage *string `json:"previous_page"`
}

func (p *TokenPage[T]) GetItems() []*T { return p.Items }

// HasNext reports whether a following page exists.
func (p *TokenPage[T]) HasNext() bool { return p.NextPage != nil }

// HasPrevious reports whether a preceding page exists.
func (p *TokenPage[T]) HasPrevious() bool { return p.PreviousPage != nil }
