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
	"fmt"
	"reflect"

	"github.com/tomoncle/quarry/types"
)

// NewModel returns a pointer to a new entity struct with values assigned.
func (e *Entity) NewModel(values Values) (any, error) {
	ptr := reflect.New(e.typ)
	if err := e.assign(ptr.Elem(), values); err != nil {
		return nil, err
	}
	return ptr.Interface(), nil
}

// ValuesOf reads columns from model into Values. Without columns every
// column is read.
func (e *Entity) ValuesOf(model any, columns ...string) (Values, error) {
	if len(columns) == 0 {
		columns = e.columns
	}
	out := make(Values, len(columns))
	for _, c := range columns {
		v, err := e.FieldValue(model, c)
		if err != nil {
			return nil, err
		}
		out[c] = v
	}
	return out, nil
}

// newModels builds a *[]*T holding one model per row.
func (e *Entity) newModels(rows []Values) (any, error) {
	slice := reflect.MakeSlice(reflect.SliceOf(reflect.PointerTo(e.typ)), 0, len(rows))
	for _, row := range rows {
		ptr := reflect.New(e.typ)
		if err := e.assign(ptr.Elem(), row); err != nil {
			return nil, err
		}
		slice = reflect.Append(slice, ptr)
	}
	out := reflect.New(slice.Type())
	out.Elem().Set(slice)
	return out.Interface(), nil
}

func (e *Entity) assign(strct reflect.Value, values Values) error {
	for col, val := range values {
		f, ok := e.fields[col]
		if !ok {
			return e.unknown(col)
		}
		dst := strct.FieldByIndex(f.Index)
		if err := setValue(dst, val); err != nil {
			return types.NewSchemaError(e.name, col, err.Error())
		}
	}
	return nil
}

// setValue assigns v to dst, converting between numeric kinds and between
// a value and a pointer to it.
func setValue(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := setValue(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if src.Kind() == reflect.Ptr {
		if src.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		return setValue(dst, src.Elem().Interface())
	}
	if convertible(src.Type(), dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %s to %s", src.Type(), dst.Type())
}

func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	switch {
	case isNumber(from.Kind()) && isNumber(to.Kind()):
		return true
	case from.Kind() == to.Kind():
		// named types over the same underlying kind, e.g. a string enum
		return true
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
