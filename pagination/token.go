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
	"database/sql"
	"database/sql/driver"
	"encoding"
	"encoding/base64"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/tomoncle/quarry/query"
	"github.com/tomoncle/quarry/types"
	"github.com/vmihailenco/msgpack/v5"
)

const tokenVersion = 1

// Cursor is a decoded page token: the ordering values of the boundary row
// and the direction to walk from it.
type Cursor struct {
	Place     []any
	Backwards bool
}

type wireToken struct {
	Version   uint8  `msgpack:"v"`
	Ordering  uint64 `msgpack:"o"`
	Backwards bool   `msgpack:"b"`
	Place     []any  `msgpack:"p"`
}

// Fingerprint identifies an entity and ordering. Tokens carry it so they
// cannot be replayed against a different ordering.
func Fingerprint(e *query.Entity, ordering []query.Order) uint64 {
	var b strings.Builder
	b.WriteString(e.Table().Name)
	for _, o := range ordering {
		b.WriteByte('|')
		b.WriteString(o.String())
	}
	return xxhash.Sum64String(b.String())
}

// EncodeToken serializes c into a URL safe string. The encoding depends only
// on the values, the direction and the ordering, so tokens stay valid across
// restarts.
func EncodeToken(e *query.Entity, ordering []query.Order, c Cursor) (string, error) {
	if len(c.Place) != len(ordering) {
		return "", types.InvalidPageToken("place has %d values for %d ordering columns", len(c.Place), len(ordering))
	}
	place := make([]any, len(c.Place))
	for i, v := range c.Place {
		w, err := wireValue(v)
		if err != nil {
			return "", types.NewSchemaError(e.Name(), ordering[i].Column, err.Error())
		}
		place[i] = w
	}
	b, err := msgpack.Marshal(&wireToken{
		Version:   tokenVersion,
		Ordering:  Fingerprint(e, ordering),
		Backwards: c.Backwards,
		Place:     place,
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeToken parses a token produced by EncodeToken for the same entity and
// ordering, restoring every place value to its column's Go type.
func DecodeToken(e *query.Entity, ordering []query.Order, token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return Cursor{}, types.InvalidPageToken("not base64url: %v", err)
	}
	var w wireToken
	if err := msgpack.Unmarshal(raw, &w); err != nil {
		return Cursor{}, types.InvalidPageToken("malformed: %v", err)
	}
	if w.Version != tokenVersion {
		return Cursor{}, types.InvalidPageToken("unsupported version %d", w.Version)
	}
	if w.Ordering != Fingerprint(e, ordering) {
		return Cursor{}, types.InvalidPageToken("token was issued for a different ordering")
	}
	if len(w.Place) != len(ordering) {
		return Cursor{}, types.InvalidPageToken("place has %d values for %d ordering columns", len(w.Place), len(ordering))
	}

	c := Cursor{Backwards: w.Backwards, Place: make([]any, len(w.Place))}
	for i, v := range w.Place {
		if v == nil {
			return Cursor{}, types.InvalidPageToken("NULL value for %s", ordering[i].Column)
		}
		ft, err := e.FieldType(ordering[i].Column)
		if err != nil {
			return Cursor{}, err
		}
		cv, err := coerce(v, ft)
		if err != nil {
			return Cursor{}, types.InvalidPageToken("%s: %v", ordering[i].Column, err)
		}
		c.Place[i] = cv
	}
	return c, nil
}

var (
	timeType            = reflect.TypeOf(time.Time{})
	uuidType            = reflect.TypeOf(uuid.UUID{})
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	binUnmarshalerType  = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
	scannerType         = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

// wireValue reduces v to a value msgpack round-trips without a schema.
func wireValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, errNullPlace
	case time.Time:
		return x, nil
	case uuid.UUID:
		return x.String(), nil
	case []byte:
		return x, nil
	case encoding.TextMarshaler:
		b, err := x.MarshalText()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return nil, err
		}
		if dv == nil {
			return nil, errNullPlace
		}
		return dv, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, errNullPlace
		}
		return wireValue(rv.Elem().Interface())
	}
	return v, nil
}

// coerce converts a decoded wire value to typ, the Go type of the column.
func coerce(v any, typ reflect.Type) (any, error) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	src := reflect.ValueOf(v)

	switch {
	case typ == uuidType:
		switch x := v.(type) {
		case string:
			return uuid.Parse(x)
		case []byte:
			return uuid.FromBytes(x)
		}
	case typ == timeType:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return time.Parse(time.RFC3339Nano, x)
		}
	case src.Type().AssignableTo(typ):
		return v, nil
	case isNumeric(src.Kind()) && isNumeric(typ.Kind()):
		return src.Convert(typ).Interface(), nil
	case src.Kind() == reflect.String && isNumeric(typ.Kind()):
		return parseNumber(src.String(), typ)
	}

	ptr := reflect.New(typ)
	switch {
	case ptr.Type().Implements(textUnmarshalerType):
		if s, ok := v.(string); ok {
			if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return ptr.Elem().Interface(), nil
		}
	case ptr.Type().Implements(binUnmarshalerType):
		if b, ok := v.([]byte); ok {
			if err := ptr.Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(b); err != nil {
				return nil, err
			}
			return ptr.Elem().Interface(), nil
		}
	}
	if ptr.Type().Implements(scannerType) {
		if err := ptr.Interface().(sql.Scanner).Scan(v); err != nil {
			return nil, err
		}
		return ptr.Elem().Interface(), nil
	}
	if src.Type().ConvertibleTo(typ) && src.Kind() == typ.Kind() {
		return src.Convert(typ).Interface(), nil
	}
	return nil, &coerceError{from: src.Type(), to: typ}
}

func parseNumber(s string, typ reflect.Type) (any, error) {
	out := reflect.New(typ).Elem()
	switch {
	case out.CanInt():
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		out.SetInt(n)
	case out.CanUint():
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		out.SetUint(n)
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		out.SetFloat(f)
	}
	return out.Interface(), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

type coerceError struct {
	from, to reflect.Type
}

func (e *coerceError) Error() string {
	return "cannot restore " + e.from.String() + " as " + e.to.String()
}

type nullPlaceError struct{}

func (nullPlaceError) Error() string { return "cannot paginate past a NULL ordering value" }

var errNullPlace error = nullPlaceError{}
