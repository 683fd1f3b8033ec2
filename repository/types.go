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
	"context"
	"errors"

	"github.com/tomoncle/morph/schema"
	"github.com/tomoncle/morph/types"
)

// ErrInvalidRelationValue reports a relation value that is not an id, a
// record holding an id, or a list of those.
var ErrInvalidRelationValue = errors.New("invalid relation value")

// ErrNoUpdateValues reports an update payload without any field or
// relation of the entity.
var ErrNoUpdateValues = errors.New("no values to update")

// RelationFilter keeps the records whose relation points at one of IDs.
// Filters on different relations are AND-combined.
type RelationFilter struct {
	Relation string
	IDs      []interface{}
}

// OrderBy sorts by a column of the entity table.
type OrderBy struct {
	Column string
	Desc   bool
}

// QueryOptions controls Query. An empty OrderBy sorts by id descending.
type QueryOptions struct {
	Filters   []RelationFilter
	EagerLoad []string
	OrderBy   []OrderBy
}

type InsertResult struct {
	ID           int64 `json:"id"`
	RowsAffected int64 `json:"rowsAffected"`
}

type UpdateResult struct {
	RowsAffected int64 `json:"rowsAffected"`
}

type DeleteResult struct {
	RowsAffected int64 `json:"rowsAffected"`
}

// DynamicRepository stores the records of one entity type.
type DynamicRepository interface {
	Descriptor() *schema.Descriptor

	Query(ctx context.Context, opts QueryOptions) ([]types.Record, error)

	// GetByID returns sql.ErrNoRows when no record has id.
	GetByID(ctx context.Context, id int64, eagerLoad ...string) (types.Record, error)

	Insert(ctx context.Context, record types.Record) (*InsertResult, error)

	// UpdatePartial writes only the keys present in patch. Many-to-many
	// keys replace the whole join set.
	UpdatePartial(ctx context.Context, id int64, patch types.Record) (*UpdateResult, error)

	DeleteByID(ctx context.Context, id int64) (*DeleteResult, error)
}
