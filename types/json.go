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
	"database/sql/driver"
	"errors"

	json "github.com/goccy/go-json"
)

// JsonValue wraps an arbitrary JSON document stored in a json column. The
// document is written as text so every supported driver accepts it.
type JsonValue struct {
	Data interface{}
}

// Value implements driver.Valuer for JsonValue.
func (j JsonValue) Value() (driver.Value, error) {
	if j.Data == nil {
		return nil, nil
	}
	b, err := json.Marshal(j.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JsonValue.
func (j *JsonValue) Scan(value interface{}) error {
	data, err := DecodeJSON(value)
	if err != nil {
		return err
	}
	j.Data = data
	return nil
}

// MarshalJSON renders the wrapped document.
func (j JsonValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Data)
}

// DecodeJSON decodes a json column value as returned by the driver.
func DecodeJSON(value interface{}) (interface{}, error) {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return nil, errors.New("json column must be []byte or string")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
