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
	"fmt"

	"github.com/tomoncle/morph/schema"
	"github.com/tomoncle/morph/types"
	"github.com/uptrace/bun"
)

// link is the desired join set of a many-to-many relation.
type link struct {
	rel schema.Relation
	ids []int64
}

func (r *dynamicRepositoryImpl) targetOf(rel *schema.Relation) (*dynamicRepositoryImpl, error) {
	target, ok := r.registry.Lookup(rel.Entity)
	if !ok {
		return nil, fmt.Errorf("%s.%s: unknown target entity %q", r.desc.Slug, rel.Name, rel.Entity)
	}
	return newDynamicRepository(r.db, r.registry, target), nil
}

// eagerLoad attaches the named relations to records. Unknown names are
// skipped. Related records are not loaded any further.
func (r *dynamicRepositoryImpl) eagerLoad(ctx context.Context, records []types.Record, names []string) error {
	if len(records) == 0 {
		return nil
	}
	for _, name := range names {
		rel, ok := r.desc.Relation(name)
		if !ok {
			continue
		}
		target, err := r.targetOf(rel)
		if err != nil {
			return err
		}
		if rel.Kind == schema.ManyToMany {
			err = r.loadManyToMany(ctx, records, rel, target)
		} else {
			err = r.loadManyToOne(ctx, records, rel, target)
		}
		if err != nil {
			return fmt.Errorf("load %s.%s: %w", r.desc.Slug, rel.Name, err)
		}
	}
	return nil
}

func (r *dynamicRepositoryImpl) loadManyToOne(ctx context.Context, records []types.Record, rel *schema.Relation, target *dynamicRepositoryImpl) error {
	var ids []int64
	for _, rec := range records {
		if id, ok := types.ToInt64(rec[rel.Column]); ok {
			ids = append(ids, id)
		}
	}
	byID, err := target.fetchByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, rec := range records {
		rec[rel.Name] = nil
		if id, ok := types.ToInt64(rec[rel.Column]); ok {
			if related, ok := byID[id]; ok {
				rec[rel.Name] = related.Clone()
			}
		}
	}
	return nil
}

func (r *dynamicRepositoryImpl) loadManyToMany(ctx context.Context, records []types.Record, rel *schema.Relation, target *dynamicRepositoryImpl) error {
	owners := make([]int64, 0, len(records))
	for _, rec := range records {
		if id, ok := rec.ID(); ok {
			owners = append(owners, id)
		}
	}

	var pairs []map[string]interface{}
	if len(owners) > 0 {
		err := r.db.NewSelect().
			TableExpr("?", bun.Ident(rel.JoinTable)).
			ColumnExpr("? AS owner_id", bun.Ident(rel.JoinColumn)).
			ColumnExpr("? AS target_id", bun.Ident(rel.InverseJoinColumn)).
			Where("? IN (?)", bun.Ident(rel.JoinColumn), bun.In(owners)).
			OrderExpr("? ASC", bun.Ident(rel.InverseJoinColumn)).
			Scan(ctx, &pairs)
		if err != nil && !isNoRows(err) {
			return err
		}
	}

	linked := make(map[int64][]int64, len(owners))
	var targetIDs []int64
	for _, p := range pairs {
		owner, ok1 := types.ToInt64(p["owner_id"])
		tid, ok2 := types.ToInt64(p["target_id"])
		if !ok1 || !ok2 {
			continue
		}
		linked[owner] = append(linked[owner], tid)
		targetIDs = append(targetIDs, tid)
	}
	byID, err := target.fetchByIDs(ctx, targetIDs)
	if err != nil {
		return err
	}

	for _, rec := range records {
		related := []types.Record{}
		if id, ok := rec.ID(); ok {
			for _, tid := range linked[id] {
				if t, ok := byID[tid]; ok {
					related = append(related, t.Clone())
				}
			}
		}
		rec[rel.Name] = related
	}
	return nil
}

func (r *dynamicRepositoryImpl) fetchByIDs(ctx context.Context, ids []int64) (map[int64]types.Record, error) {
	ids = uniqueIDs(ids)
	out := make(map[int64]types.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	records, err := r.scan(ctx, r.db.NewSelect().
		TableExpr("?", r.table()).
		Where("? IN (?)", bun.Ident(types.IDField), bun.In(ids)))
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if id, ok := rec.ID(); ok {
			out[id] = rec
		}
	}
	return out, nil
}

// replaceLinks makes ids the complete join set of owner.
func replaceLinks(ctx context.Context, db bun.IDB, rel schema.Relation, owner int64, ids []int64) error {
	if err := deleteLinks(ctx, db, rel.JoinTable, rel.JoinColumn, owner); err != nil {
		return err
	}
	for _, id := range uniqueIDs(ids) {
		row := map[string]interface{}{
			rel.JoinColumn:        owner,
			rel.InverseJoinColumn: id,
		}
		if _, err := db.NewInsert().Model(&row).TableExpr("?", bun.Ident(rel.JoinTable)).Exec(ctx); err != nil {
			return fmt.Errorf("link %s %d -> %d: %w", rel.JoinTable, owner, id, err)
		}
	}
	return nil
}

func deleteLinks(ctx context.Context, db bun.IDB, table, column string, id int64) error {
	_, err := db.NewDelete().
		TableExpr("?", bun.Ident(table)).
		Where("? = ?", bun.Ident(column), id).
		Exec(ctx)
	return err
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
