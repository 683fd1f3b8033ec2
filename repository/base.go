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
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomoncle/morph/schema"
	"github.com/tomoncle/morph/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/feature"
)

type dynamicRepositoryImpl struct {
	db       *bun.DB
	registry schema.Registry
	desc     *schema.Descriptor
	columns  map[string]*schema.Field // column name -> field
	fkCols   map[string]struct{}      // many-to-one foreign key columns
}

// NewDynamicRepository returns the repository of desc. The registry
// resolves relation targets for eager loading.
func NewDynamicRepository(db *bun.DB, registry schema.Registry, desc *schema.Descriptor) DynamicRepository {
	return newDynamicRepository(db, registry, desc)
}

func newDynamicRepository(db *bun.DB, registry schema.Registry, desc *schema.Descriptor) *dynamicRepositoryImpl {
	return &dynamicRepositoryImpl{
		db:       db,
		registry: registry,
		desc:     desc,
		columns:  fieldsByColumn(desc),
		fkCols:   foreignKeyColumns(desc),
	}
}

func fieldsByColumn(desc *schema.Descriptor) map[string]*schema.Field {
	out := make(map[string]*schema.Field, len(desc.Fields))
	for i := range desc.Fields {
		out[desc.Fields[i].ColumnName()] = &desc.Fields[i]
	}
	return out
}

func foreignKeyColumns(desc *schema.Descriptor) map[string]struct{} {
	out := make(map[string]struct{})
	for _, rel := range desc.ManyToOneRelations() {
		out[rel.Column] = struct{}{}
	}
	return out
}

func (r *dynamicRepositoryImpl) Descriptor() *schema.Descriptor { return r.desc }

func (r *dynamicRepositoryImpl) table() bun.Ident { return bun.Ident(r.desc.Table) }

func (r *dynamicRepositoryImpl) Query(ctx context.Context, opts QueryOptions) ([]types.Record, error) {
	q := r.db.NewSelect().TableExpr("?", r.table())
	for _, f := range opts.Filters {
		var err error
		if q, err = r.applyFilter(q, f); err != nil {
			return nil, err
		}
	}
	if len(opts.OrderBy) == 0 {
		q = q.OrderExpr("? DESC", bun.Ident(types.IDField))
	}
	for _, o := range opts.OrderBy {
		if !r.hasColumn(o.Column) {
			return nil, fmt.Errorf("%s: unknown order column %q", r.desc.Slug, o.Column)
		}
		if o.Desc {
			q = q.OrderExpr("? DESC", bun.Ident(o.Column))
		} else {
			q = q.OrderExpr("? ASC", bun.Ident(o.Column))
		}
	}

	records, err := r.scan(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := r.eagerLoad(ctx, records, opts.EagerLoad); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *dynamicRepositoryImpl) applyFilter(q *bun.SelectQuery, f RelationFilter) (*bun.SelectQuery, error) {
	rel, ok := r.desc.Relation(f.Relation)
	if !ok {
		return nil, fmt.Errorf("%s: unknown relation %q", r.desc.Slug, f.Relation)
	}
	if len(f.IDs) == 0 {
		return q.Where("1 = 0"), nil
	}
	switch rel.Kind {
	case schema.ManyToMany:
		sub := r.db.NewSelect().
			TableExpr("?", bun.Ident(rel.JoinTable)).
			ColumnExpr("?", bun.Ident(rel.JoinColumn)).
			Where("? IN (?)", bun.Ident(rel.InverseJoinColumn), bun.In(f.IDs))
		return q.Where("? IN (?)", bun.Ident(types.IDField), sub), nil
	default:
		return q.Where("? IN (?)", bun.Ident(rel.Column), bun.In(f.IDs)), nil
	}
}

func (r *dynamicRepositoryImpl) hasColumn(name string) bool {
	for _, c := range r.desc.Columns() {
		if c == name {
			return true
		}
	}
	return false
}

// scan runs q and normalizes every row. No rows is an empty result.
func (r *dynamicRepositoryImpl) scan(ctx context.Context, q *bun.SelectQuery) ([]types.Record, error) {
	var rows []map[string]interface{}
	if err := q.Scan(ctx, &rows); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	records := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, r.normalizeRow(row))
	}
	return records, nil
}

func (r *dynamicRepositoryImpl) GetByID(ctx context.Context, id int64, eagerLoad ...string) (types.Record, error) {
	q := r.db.NewSelect().
		TableExpr("?", r.table()).
		Where("? = ?", bun.Ident(types.IDField), id).
		Limit(1)
	records, err := r.scan(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, sql.ErrNoRows
	}
	if err := r.eagerLoad(ctx, records, eagerLoad); err != nil {
		return nil, err
	}
	return records[0], nil
}

func (r *dynamicRepositoryImpl) Insert(ctx context.Context, record types.Record) (*InsertResult, error) {
	values, links, err := r.splitPayload(record, true)
	if err != nil {
		return nil, err
	}
	result := &InsertResult{}
	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		id, n, err := r.insertRow(ctx, tx, values)
		if err != nil {
			return err
		}
		result.ID, result.RowsAffected = id, n
		for _, link := range links {
			if err := replaceLinks(ctx, tx, link.rel, id, link.ids); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *dynamicRepositoryImpl) insertRow(ctx context.Context, tx bun.Tx, values map[string]interface{}) (int64, int64, error) {
	if len(values) == 0 {
		return r.insertDefaults(ctx, tx)
	}
	q := tx.NewInsert().Model(&values).TableExpr("?", r.table())
	if r.db.HasFeature(feature.InsertReturning) {
		var id int64
		if err := q.Returning("?", bun.Ident(types.IDField)).Scan(ctx, &id); err != nil {
			return 0, 0, err
		}
		return id, 1, nil
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, 0, err
	}
	return lastInsert(res)
}

// insertDefaults inserts a row holding only column defaults.
func (r *dynamicRepositoryImpl) insertDefaults(ctx context.Context, tx bun.Tx) (int64, int64, error) {
	if r.db.Dialect().Name() == dialect.MySQL {
		res, err := tx.ExecContext(ctx, "INSERT INTO ? () VALUES ()", r.table())
		if err != nil {
			return 0, 0, err
		}
		return lastInsert(res)
	}
	var id int64
	err := tx.QueryRowContext(ctx, "INSERT INTO ? DEFAULT VALUES RETURNING ?", r.table(), bun.Ident(types.IDField)).Scan(&id)
	if err != nil {
		return 0, 0, err
	}
	return id, 1, nil
}

func lastInsert(res sql.Result) (int64, int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	return id, n, nil
}

func (r *dynamicRepositoryImpl) UpdatePartial(ctx context.Context, id int64, patch types.Record) (*UpdateResult, error) {
	values, links, err := r.splitPayload(patch, false)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 && len(links) == 0 {
		return nil, fmt.Errorf("%s %d: %w", r.desc.Slug, id, ErrNoUpdateValues)
	}
	result := &UpdateResult{}
	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(values) > 0 {
			res, err := tx.NewUpdate().
				Model(&values).
				TableExpr("?", r.table()).
				Where("? = ?", bun.Ident(types.IDField), id).
				Exec(ctx)
			if err != nil {
				return err
			}
			if result.RowsAffected, err = res.RowsAffected(); err != nil {
				return err
			}
		} else {
			exists, err := tx.NewSelect().
				TableExpr("?", r.table()).
				Where("? = ?", bun.Ident(types.IDField), id).
				Exists(ctx)
			if err != nil {
				return err
			}
			if exists {
				result.RowsAffected = 1
			}
		}
		for _, link := range links {
			if err := replaceLinks(ctx, tx, link.rel, id, link.ids); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteByID removes the join rows that reference the record, in either
// direction, before the record itself.
func (r *dynamicRepositoryImpl) DeleteByID(ctx context.Context, id int64) (*DeleteResult, error) {
	result := &DeleteResult{}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, rel := range r.desc.ManyToManyRelations() {
			if err := deleteLinks(ctx, tx, rel.JoinTable, rel.JoinColumn, id); err != nil {
				return err
			}
		}
		for _, owner := range r.registry.Descriptors() {
			for _, rel := range owner.ManyToManyRelations() {
				if rel.Entity != r.desc.Slug {
					continue
				}
				if err := deleteLinks(ctx, tx, rel.JoinTable, rel.InverseJoinColumn, id); err != nil {
					return err
				}
			}
		}
		res, err := tx.NewDelete().
			TableExpr("?", r.table()).
			Where("? = ?", bun.Ident(types.IDField), id).
			Exec(ctx)
		if err != nil {
			return err
		}
		result.RowsAffected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
