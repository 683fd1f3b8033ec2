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

package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tomoncle/morph/schema"
	"github.com/tomoncle/morph/types"
)

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// normalizeRow turns a driver row into a Record keyed by field name. Text
// returned as bytes becomes a string, json columns are decoded and ids are
// int64.
func (r *dynamicRepositoryImpl) normalizeRow(row map[string]interface{}) types.Record {
	rec := make(types.Record, len(row))
	for col, v := range row {
		if col == types.IDField {
			rec[col] = intOrRaw(v)
			continue
		}
		if _, ok := r.fkCols[col]; ok {
			rec[col] = intOrRaw(v)
			continue
		}
		if f, ok := r.columns[col]; ok {
			rec[f.Name] = fieldValue(f.Type, v)
			continue
		}
		rec[col] = textOrRaw(v)
	}
	return rec
}

func intOrRaw(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if n, ok := types.ToInt64(v); ok {
		return n
	}
	return textOrRaw(v)
}

func textOrRaw(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func fieldValue(t schema.FieldType, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case schema.FieldJSON:
		if decoded, err := types.DecodeJSON(v); err == nil {
			return decoded
		}
	case schema.FieldInteger:
		if n, ok := types.ToInt64(v); ok {
			return n
		}
	case schema.FieldNumber:
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int64:
			return float64(n)
		case []byte, string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(textOrRaw(n))), 64); err == nil {
				return f
			}
		}
	case schema.FieldBoolean:
		switch b := v.(type) {
		case bool:
			return b
		case []byte, string:
			if parsed, err := strconv.ParseBool(fmt.Sprint(textOrRaw(b))); err == nil {
				return parsed
			}
		default:
			if n, ok := types.ToInt64(v); ok {
				return n != 0
			}
		}
	}
	return textOrRaw(v)
}

// splitPayload maps payload keys onto table columns and join sets. Fields
// are matched by name, many-to-one relations by name or column and
// many-to-many relations by name. Other keys, and the id on updates, are
// dropped.
func (r *dynamicRepositoryImpl) splitPayload(payload types.Record, insert bool) (map[string]interface{}, []link, error) {
	values := make(map[string]interface{}, len(payload))
	var links []link
	for key, v := range payload {
		if key == types.IDField {
			if insert && v != nil {
				values[types.IDField] = intOrRaw(v)
			}
			continue
		}
		if f, ok := r.desc.Field(key); ok {
			values[f.ColumnName()] = columnValue(f.Type, v)
			continue
		}
		if rel, ok := r.desc.Relation(key); ok {
			if rel.Kind == schema.ManyToMany {
				ids, err := relationIDs(v)
				if err != nil {
					return nil, nil, fmt.Errorf("%s.%s: %w", r.desc.Slug, rel.Name, err)
				}
				links = append(links, link{rel: *rel, ids: ids})
				continue
			}
			id, err := relationID(v)
			if err != nil {
				return nil, nil, fmt.Errorf("%s.%s: %w", r.desc.Slug, rel.Name, err)
			}
			values[rel.Column] = id
			continue
		}
		for _, rel := range r.desc.ManyToOneRelations() {
			if rel.Column == key {
				id, err := relationID(v)
				if err != nil {
					return nil, nil, fmt.Errorf("%s.%s: %w", r.desc.Slug, rel.Column, err)
				}
				values[rel.Column] = id
				break
			}
		}
	}
	return values, links, nil
}

func columnValue(t schema.FieldType, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case schema.FieldJSON:
		return types.JsonValue{Data: v}
	case schema.FieldInteger:
		if n, ok := types.ToInt64(v); ok {
			return n
		}
	}
	return v
}

// relationID accepts an id, a numeric string or a record holding an id.
// nil clears the relation.
func relationID(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case types.Record:
		return relationID(x[types.IDField])
	case map[string]interface{}:
		return relationID(x[types.IDField])
	}
	if id, ok := types.ToInt64(v); ok {
		return id, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidRelationValue, v)
}

// relationIDs accepts a list of values relationID understands, or a
// single one. nil empties the set.
func relationIDs(v interface{}) ([]int64, error) {
	var items []interface{}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items = x
	case []types.Record:
		for _, rec := range x {
			items = append(items, rec)
		}
	case []int64:
		return x, nil
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	default:
		items = []interface{}{v}
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := relationID(item)
		if err != nil {
			return nil, err
		}
		if id == nil {
			return nil, fmt.Errorf("%w: null id in list", ErrInvalidRelationValue)
		}
		ids = append(ids, id.(int64))
	}
	return ids, nil
}
