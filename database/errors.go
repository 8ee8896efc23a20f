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

package database

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
)

var mysqlErrorNumbers = map[uint16]SQLError{
	1054: NoColumnErr,
	1146: NoTableErr,
	1050: ExistTableErr,
	1062: DuplicateKeyErr,
	1048: NotNullViolationErr,
	1216: ForeignKeyViolationErr,
	1217: ForeignKeyViolationErr,
	1451: ForeignKeyViolationErr,
	1452: ForeignKeyViolationErr,
	3819: CheckConstraintViolationErr,
	1265: DataTruncatedErr,
	1406: DataTruncatedErr,
}

var sqlStates = map[string]SQLError{
	"42703": NoColumnErr,
	"42P01": NoTableErr,
	"42P07": ExistTableErr,
	"23505": DuplicateKeyErr,
	"23502": NotNullViolationErr,
	"23503": ForeignKeyViolationErr,
	"23514": CheckConstraintViolationErr,
	"22001": DataTruncatedErr,
	"42804": InvalidTypeCastErr,
}

// messagePatterns classify drivers that only expose a message, such as SQLite.
// Every needle of an entry must be present.
var messagePatterns = []struct {
	needles []string
	kind    SQLError
}{
	{[]string{"no such column"}, NoColumnErr},
	{[]string{"undefined column"}, NoColumnErr},
	{[]string{"no such table"}, NoTableErr},
	{[]string{"undefined table"}, NoTableErr},
	{[]string{"table", "already exists"}, ExistTableErr},
	{[]string{"unique constraint failed"}, DuplicateKeyErr},
	{[]string{"duplicate key value"}, DuplicateKeyErr},
	{[]string{"primary key must be unique"}, DuplicateKeyErr},
	{[]string{"not null constraint failed"}, NotNullViolationErr},
	{[]string{"not-null constraint"}, NotNullViolationErr},
	{[]string{"foreign key constraint failed"}, ForeignKeyViolationErr},
	{[]string{"check constraint"}, CheckConstraintViolationErr},
	{[]string{"data truncated"}, DataTruncatedErr},
	{[]string{"datatype mismatch"}, InvalidTypeCastErr},
}

// IsSqlError reports whether err came from the database driver and classifies
// it. Driver error types are inspected first, then the message.
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if kind, ok := mysqlErrorNumbers[mysqlErr.Number]; ok {
			return true, kind
		}
		return true, UnknownErr
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if kind, ok := sqlStates[string(pqErr.Code)]; ok {
			return true, kind
		}
		return true, UnknownErr
	}

	s := strings.ToLower(err.Error())
	if i := strings.Index(s, "sqlstate "); i >= 0 && len(s) >= i+14 {
		if kind, ok := sqlStates[strings.ToUpper(s[i+9:i+14])]; ok {
			return true, kind
		}
	}
	for _, p := range messagePatterns {
		if containsAll(s, p.needles) {
			return true, p.kind
		}
	}
	return false, UnknownErr
}

// IsDuplicateKey reports whether err is a unique or primary key violation.
func IsDuplicateKey(err error) bool {
	is, kind := IsSqlError(err)
	return is && kind == DuplicateKeyErr
}

func containsAll(s string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(s, n) {
			return false
		}
	}
	return true
}
