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

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IDField is the primary key column shared by every dynamic entity.
const IDField = "id"

// Record is one row of a dynamic entity keyed by column or relation name.
// Many-to-one relations hold a Record (or nil) once eager-loaded, many-to-many
// relations hold a []Record.
type Record map[string]interface{}

// ID returns the record identifier when present and numeric.
func (r Record) ID() (int64, bool) {
	if r == nil {
		return 0, false
	}
	return ToInt64(r[IDField])
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SelectOption is a derived {id, label} pair used by choice lists.
type SelectOption struct {
	ID    int64       `json:"id"`
	Label interface{} `json:"label"`
}

// ToInt64 converts the numeric representations returned by SQL drivers
// (and decoded from JSON) into an int64.
func ToInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		// 2^63 is exact in float64; MaxInt64 is not.
		if n != math.Trunc(n) || n >= 1<<63 || n < -(1<<63) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return ToInt64(float64(n))
	case []byte:
		return ToInt64(string(n))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	case fmt.Stringer:
		return ToInt64(n.String())
	default:
		return 0, false
	}
}

// CoerceIDs converts identifier strings into values suitable for binding
// against integer key columns. Values that are not integers are kept as-is.
func CoerceIDs(ids []string) []interface{} {
	out := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if n, ok := ToInt64(id); ok {
			out = append(out, n)
			continue
		}
		out = append(out, id)
	}
	return out
}
