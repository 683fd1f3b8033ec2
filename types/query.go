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
	"net/url"
	"strconv"
)

// QueryParams carries list filters keyed by relation name. A value is either
// a string or a sequence of strings; numbers are accepted and rendered in
// base 10.
type QueryParams map[string]interface{}

// QueryParamsFromURL converts parsed query string values. Keys that appear
// once become a string, repeated keys become a []string.
func QueryParamsFromURL(values url.Values) QueryParams {
	params := make(QueryParams, len(values))
	for key, vals := range values {
		switch len(vals) {
		case 0:
			continue
		case 1:
			params[key] = vals[0]
		default:
			params[key] = append([]string(nil), vals...)
		}
	}
	return params
}

// Values returns the value of key as a set of strings. A single value is
// promoted to a one-element set. The second result is false when the key is
// absent or holds an unsupported type.
func (p QueryParams) Values(key string) ([]string, bool) {
	raw, ok := p[key]
	if !ok {
		return nil, false
	}
	return normalizeValues(raw)
}

func normalizeValues(raw interface{}) ([]string, bool) {
	switch v := raw.(type) {
	case string:
		return []string{v}, true
	case []string:
		return append([]string(nil), v...), true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := scalarString(item)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case []int64:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.FormatInt(n, 10)
		}
		return out, true
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out, true
	default:
		s, ok := scalarString(v)
		if !ok {
			return nil, false
		}
		return []string{s}, true
	}
}

func scalarString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	if n, ok := ToInt64(v); ok {
		return strconv.FormatInt(n, 10), true
	}
	return "", false
}
