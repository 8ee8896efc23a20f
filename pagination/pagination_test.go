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

package pagination_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/quarry/internal/dbtest"
	"github.com/tomoncle/quarry/pagination"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/types"
	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID       int64  `bun:"id,pk,autoincrement"`
	Name     string `bun:"name,notnull"`
	LastName string `bun:"last_name"`
}

type Article struct {
	bun.BaseModel `bun:"table:articles,alias:ar"`

	ID     int64     `bun:"id,pk,autoincrement"`
	Author string    `bun:"author,notnull"`
	Score  int       `bun:"score,notnull"`
	Posted time.Time `bun:"posted,notnull"`
	Note   *string   `bun:"note"`
}

type Event struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	ID   uuid.UUID `bun:"id,pk,type:varchar(36)"`
	Kind string    `bun:"kind,notnull"`
}

func names(users []*User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Name
	}
	return out
}

func ids(articles []*Article) []int64 {
	out := make([]int64, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func seedUsers(t *testing.T) (*bun.DB, *query.Entity) {
	t.Helper()
	db := dbtest.Open(t, (*User)(nil))
	dbtest.Insert(t, db, &[]*User{{Name: "John"}, {Name: "Vincent"}, {Name: "Andrew"}})
	e, err := query.EntityOf[User](db, query.WithDefaultOrder(query.Desc("name")))
	require.NoError(t, err)
	return db, e
}

func seedArticles(t *testing.T, n int) (*bun.DB, *query.Entity) {
	t.Helper()
	db := dbtest.Open(t, (*Article)(nil))
	if n > 0 {
		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		rows := make([]*Article, n)
		for i := range rows {
			rows[i] = &Article{
				Author: fmt.Sprintf("author-%d", i%3),
				Score:  (i * 7) % 5,
				Posted: base.Add(time.Duration(i%4) * time.Hour),
			}
		}
		dbtest.Insert(t, db, &rows)
	}
	e, err := query.EntityOf[Article](db)
	require.NoError(t, err)
	return db, e
}

func TestNumberedExample(t *testing.T) {
	ctx := context.Background()
	db, e := seedUsers(t)
	p := &pagination.Numbered[User]{}

	first, err := p.Page(ctx, db, query.New(e), types.NewPageRequest(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"Vincent", "John"}, names(first.Items))
	assert.Equal(t, 1, first.CurrentPage)
	assert.Equal(t, 2, first.PageSize)
	require.NotNil(t, first.TotalItems)
	require.NotNil(t, first.TotalPages)
	assert.Equal(t, 3, *first.TotalItems)
	assert.Equal(t, 2, *first.TotalPages)

	second, err := p.Page(ctx, db, query.New(e), types.NewPageRequest(2, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"Andrew"}, names(second.Items))
	assert.Equal(t, 1, second.PageSize)
}

func TestNumberedBeyondLastPage(t *testing.T) {
	ctx := context.Background()
	db, e := seedUsers(t)

	page, err := (&pagination.Numbered[User]{}).Page(ctx, db, query.New(e), types.NewPageRequest(5, 2))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.PageSize)
	assert.Equal(t, 3, *page.TotalItems)
	assert.Equal(t, 2, *page.TotalPages)
}

func TestNumberedHugePageNumber(t *testing.T) {
	ctx := context.Background()
	db, e := seedUsers(t)

	page, err := (&pagination.Numbered[User]{}).Page(ctx, db, query.New(e), types.NewPageRequest(math.MaxInt, 2))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, math.MaxInt, page.CurrentPage)
	assert.Equal(t, 3, *page.TotalItems)

	page, err = (&pagination.Numbered[User]{}).Page(ctx, db, query.New(e), types.NewPageRequestWithoutTotal(math.MaxInt, 2))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestNumberedWithoutTotal(t *testing.T) {
	ctx := context.Background()
	db, e := seedUsers(t)

	page, err := (&pagination.Numbered[User]{}).Page(ctx, db, query.New(e), types.NewPageRequestWithoutTotal(1, 10))
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Nil(t, page.TotalItems)
	assert.Nil(t, page.TotalPages)
}

func TestNumberedMath(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{0, 1, 9, 10, 11, 25} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			db, e := seedArticles(t, n)
			p := &pagination.Numbered[Article]{}
			d := query.New(e).OrderBy(query.Asc("id"))

			page, err := p.Page(ctx, db, d, types.NewPageRequest(1, 10))
			require.NoError(t, err)
			assert.Equal(t, n, *page.TotalItems)
			assert.Equal(t, (n+9)/10, *page.TotalPages)

			beyond, err := p.Page(ctx, db, d, types.NewPageRequest(*page.TotalPages+1, 10))
			require.NoError(t, err)
			assert.Empty(t, beyond.Items)
		})
	}
}

func TestNumberedInsideTransaction(t *testing.T) {
	ctx := context.Background()
	db, e := seedUsers(t)

	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		page, err := (&pagination.Numbered[User]{}).Page(ctx, tx, query.New(e), types.NewPageRequest(1, 2))
		if err != nil {
			return err
		}
		assert.Equal(t, 3, *page.TotalItems)
		return nil
	})
	require.NoError(t, err)
}

func TestKeysetExample(t *testing.T) {
	ctx := context.Background()
	db, e := seedUsers(t)
	p := &pagination.Keyset[User]{}
	d := query.New(e)

	first, err := p.Page(ctx, db, d, types.NewTokenPageRequest("", 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"Vincent", "John"}, names(first.Items))
	assert.Nil(t, first.CurrentPage)
	assert.Nil(t, first.PreviousPage)
	require.NotNil(t, first.NextPage)

	ordering := pagination.Deterministic(e, d.Ordering())
	cursor, err := pagination.DecodeToken(e, ordering, *first.NextPage)
	require.NoError(t, err)
	assert.False(t, cursor.Backwards)
	assert.Equal(t, "John", cursor.Place[0])

	second, err := p.Page(ctx, db, d, types.NewTokenPageRequest(*first.NextPage, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"Andrew"}, names(second.Items))
	assert.Nil(t, second.NextPage)
	require.NotNil(t, second.PreviousPage)
	assert.Equal(t, first.NextPage, second.CurrentPage)

	back, err := p.Page(ctx, db, d, types.NewTokenPageRequest(*second.PreviousPage, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"Vincent", "John"}, names(back.Items))
	assert.Nil(t, back.PreviousPage)
	assert.NotNil(t, back.NextPage)
}

// walk follows next tokens from the first page and returns every page.
func walk(t *testing.T, db bun.IDB, d *query.Descriptor, size int) []*types.TokenPage[Article] {
	t.Helper()
	p := &pagination.Keyset[Article]{}
	var pages []*types.TokenPage[Article]
	token := ""
	for i := 0; i < 100; i++ {
		page, err := p.Page(context.Background(), db, d, types.NewTokenPageRequest(token, size))
		require.NoError(t, err)
		pages = append(pages, page)
		if page.NextPage == nil {
			return pages
		}
		token = *page.NextPage
	}
	t.Fatal("pagination did not terminate")
	return nil
}

func expectedOrder(t *testing.T, db bun.IDB, less func(a, b *Article) bool) []int64 {
	t.Helper()
	var all []*Article
	require.NoError(t, db.NewSelect().Model(&all).Scan(context.Background()))
	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })
	return ids(all)
}

func TestKeysetCoverage(t *testing.T) {
	orderings := map[string]struct {
		orders []query.Order
		less   func(a, b *Article) bool
	}{
		"primary key": {
			nil,
			func(a, b *Article) bool { return a.ID < b.ID },
		},
		"score desc": {
			[]query.Order{query.Desc("score")},
			func(a, b *Article) bool {
				if a.Score != b.Score {
					return a.Score > b.Score
				}
				return a.ID < b.ID
			},
		},
		"author asc posted desc": {
			[]query.Order{query.Asc("author"), query.Desc("posted")},
			func(a, b *Article) bool {
				if a.Author != b.Author {
					return a.Author < b.Author
				}
				if !a.Posted.Equal(b.Posted) {
					return a.Posted.After(b.Posted)
				}
				return a.ID < b.ID
			},
		},
	}

	for _, n := range []int{0, 1, 4, 5, 13} {
		for name, o := range orderings {
			t.Run(fmt.Sprintf("%s/%d", name, n), func(t *testing.T) {
				db, e := seedArticles(t, n)
				d := query.New(e).OrderBy(o.orders...)

				pages := walk(t, db, d, 4)
				var got []int64
				for _, p := range pages {
					assert.LessOrEqual(t, len(p.Items), 4)
					got = append(got, ids(p.Items)...)
				}
				if n == 0 {
					assert.Empty(t, got)
				} else {
					assert.Equal(t, expectedOrder(t, db, o.less), got)
				}
				assert.Nil(t, pages[0].PreviousPage)
			})
		}
	}
}

func TestKeysetBackwardMirrorsForward(t *testing.T) {
	ctx := context.Background()
	db, e := seedArticles(t, 11)
	d := query.New(e).OrderBy(query.Desc("score"))
	p := &pagination.Keyset[Article]{}

	forward := walk(t, db, d, 3)
	require.Len(t, forward, 4)

	last := forward[len(forward)-1]
	require.NotNil(t, last.PreviousPage)
	token := *last.PreviousPage
	for i := len(forward) - 2; i >= 0; i-- {
		page, err := p.Page(ctx, db, d, types.NewTokenPageRequest(token, 3))
		require.NoError(t, err)
		assert.Equal(t, ids(forward[i].Items), ids(page.Items), "page %d", i)
		require.NotNil(t, page.NextPage)
		if i == 0 {
			assert.Nil(t, page.PreviousPage)
			break
		}
		require.NotNil(t, page.PreviousPage)
		token = *page.PreviousPage
	}
}

func TestKeysetNarrowProjection(t *testing.T) {
	ctx := context.Background()
	db, e := seedUsers(t)
	p := &pagination.Keyset[User]{}
	d := query.New(e).Select("name")

	var seen []string
	req := types.NewTokenPageRequest("", 1)
	for range 5 {
		page, err := p.Page(ctx, db, d, req)
		require.NoError(t, err)
		seen = append(seen, names(page.Items)...)
		if !page.HasNext() {
			break
		}
		req = types.NewTokenPageRequest(*page.NextPage, 1)
	}
	assert.Equal(t, []string{"Vincent", "John", "Andrew"}, seen)
}

func TestKeysetRespectsFilter(t *testing.T) {
	db, e := seedArticles(t, 12)
	d := query.New(e).Filter(query.Eq("author", "author-1")).OrderBy(query.Asc("id"))

	var got []int64
	for _, p := range walk(t, db, d, 2) {
		got = append(got, ids(p.Items)...)
	}
	assert.Equal(t, []int64{2, 5, 8, 11}, got)
}

func TestKeysetUUIDKeys(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, (*Event)(nil))
	events := make([]*Event, 7)
	for i := range events {
		events[i] = &Event{ID: uuid.New(), Kind: "tick"}
	}
	dbtest.Insert(t, db, &events)
	sort.Slice(events, func(i, j int) bool { return events[i].ID.String() < events[j].ID.String() })

	e, err := query.EntityOf[Event](db)
	require.NoError(t, err)
	p := &pagination.Keyset[Event]{}

	var got []uuid.UUID
	token := ""
	for {
		page, err := p.Page(ctx, db, query.New(e), types.NewTokenPageRequest(token, 3))
		require.NoError(t, err)
		for _, ev := range page.Items {
			got = append(got, ev.ID)
		}
		if !page.HasNext() {
			break
		}
		token = *page.NextPage
	}
	want := make([]uuid.UUID, len(events))
	for i, ev := range events {
		want[i] = ev.ID
	}
	assert.Equal(t, want, got)
}

func TestKeysetRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	db, e := seedArticles(t, 6)
	p := &pagination.Keyset[Article]{}

	first, err := p.Page(ctx, db, query.New(e).OrderBy(query.Desc("score")), types.NewTokenPageRequest("", 2))
	require.NoError(t, err)
	require.NotNil(t, first.NextPage)

	cases := map[string]struct {
		d     *query.Descriptor
		token string
	}{
		"garbage":        {query.New(e), "not a token!"},
		"not msgpack":    {query.New(e), "AAAA"},
		"other ordering": {query.New(e).OrderBy(query.Asc("score")), *first.NextPage},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Page(ctx, db, c.d, types.NewTokenPageRequest(c.token, 2))
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidPageToken), err.Error())
			assert.True(t, types.IsSchemaError(err))
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	_, e := seedArticles(t, 0)
	ordering := []query.Order{query.Asc("author"), query.Desc("posted"), query.Asc("score"), query.Asc("id")}
	posted := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

	token, err := pagination.EncodeToken(e, ordering, pagination.Cursor{
		Place:     []any{"ann", posted, 3, int64(42)},
		Backwards: true,
	})
	require.NoError(t, err)
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")

	c, err := pagination.DecodeToken(e, ordering, token)
	require.NoError(t, err)
	assert.True(t, c.Backwards)
	assert.Equal(t, "ann", c.Place[0])
	assert.True(t, posted.Equal(c.Place[1].(time.Time)))
	assert.Equal(t, 3, c.Place[2])
	assert.Equal(t, int64(42), c.Place[3])

	again, err := pagination.EncodeToken(e, ordering, c)
	require.NoError(t, err)
	assert.Equal(t, token, again)
}

func TestTokenRejectsNullPlace(t *testing.T) {
	_, e := seedArticles(t, 0)
	ordering := []query.Order{query.Asc("note"), query.Asc("id")}

	_, err := pagination.EncodeToken(e, ordering, pagination.Cursor{Place: []any{(*string)(nil), int64(1)}})
	assert.True(t, types.IsSchemaError(err))

	_, err = pagination.EncodeToken(e, ordering, pagination.Cursor{Place: []any{int64(1)}})
	assert.True(t, types.IsInvalidPageToken(err))
}

func TestDeterministic(t *testing.T) {
	_, e := seedArticles(t, 0)

	assert.Equal(t, []query.Order{query.Asc("id")}, pagination.Deterministic(e, nil))
	assert.Equal(t,
		[]query.Order{query.Desc("score"), query.Asc("id")},
		pagination.Deterministic(e, []query.Order{query.Desc("score")}))
	assert.Equal(t,
		[]query.Order{query.Desc("id"), query.Asc("score")},
		pagination.Deterministic(e, []query.Order{query.Desc("id"), query.Asc("score")}))
}

func TestLimits(t *testing.T) {
	ctx := context.Background()
	db, e := seedArticles(t, 30)
	p := &pagination.Numbered[Article]{Limits: pagination.Limits{DefaultPageSize: 7, MaxPageSize: 10}}

	page, err := p.Page(ctx, db, query.New(e), types.NewPageRequest(1, 0))
	require.NoError(t, err)
	assert.Len(t, page.Items, 7)

	page, err = p.Page(ctx, db, query.New(e), types.NewPageRequest(1, 50))
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)
	assert.Equal(t, 3, *page.TotalPages)
}

func TestStrategyKinds(t *testing.T) {
	assert.Equal(t, pagination.KindToken, pagination.New[User](pagination.KindToken, pagination.Limits{}, nil).Kind())
	assert.Equal(t, pagination.KindNumbered, pagination.New[User](pagination.KindNumbered, pagination.Limits{}, nil).Kind())

	k, ok := pagination.ParseKind("Numbered")
	assert.True(t, ok)
	assert.Equal(t, pagination.KindNumbered, k)
	_, ok = pagination.ParseKind("cursorish")
	assert.False(t, ok)
}

func TestPaginateRejectsMutations(t *testing.T) {
	db, e := seedUsers(t)
	_, err := (&pagination.Keyset[User]{}).Paginate(context.Background(), db, query.New(e).Delete(), types.NewTokenPageRequest("", 2))
	assert.True(t, types.IsUnsupported(err))
}
