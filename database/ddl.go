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
	"context"
	"fmt"
	"strings"

	"github.com/tomoncle/morph/schema"
	"github.com/tomoncle/morph/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// columnTypes maps field types to column types per dialect.
var columnTypes = map[dialect.Name]map[schema.FieldType]string{
	dialect.SQLite: {
		schema.FieldString:    "VARCHAR(255)",
		schema.FieldText:      "TEXT",
		schema.FieldInteger:   "INTEGER",
		schema.FieldNumber:    "REAL",
		schema.FieldBoolean:   "BOOLEAN",
		schema.FieldDate:      "DATE",
		schema.FieldTimestamp: "DATETIME",
		schema.FieldJSON:      "TEXT",
	},
	dialect.PG: {
		schema.FieldString:    "VARCHAR(255)",
		schema.FieldText:      "TEXT",
		schema.FieldInteger:   "BIGINT",
		schema.FieldNumber:    "DOUBLE PRECISION",
		schema.FieldBoolean:   "BOOLEAN",
		schema.FieldDate:      "DATE",
		schema.FieldTimestamp: "TIMESTAMP",
		schema.FieldJSON:      "JSONB",
	},
	dialect.MySQL: {
		schema.FieldString:    "VARCHAR(255)",
		schema.FieldText:      "TEXT",
		schema.FieldInteger:   "BIGINT",
		schema.FieldNumber:    "DOUBLE",
		schema.FieldBoolean:   "BOOLEAN",
		schema.FieldDate:      "DATE",
		schema.FieldTimestamp: "DATETIME",
		schema.FieldJSON:      "JSON",
	},
}

func primaryKeyType(name dialect.Name) string {
	switch name {
	case dialect.PG:
		return "BIGSERIAL PRIMARY KEY"
	case dialect.MySQL:
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func referenceType(name dialect.Name) string {
	if name == dialect.SQLite {
		return "INTEGER"
	}
	return "BIGINT"
}

// ColumnType returns the column type used for a field on the given dialect.
func ColumnType(name dialect.Name, t schema.FieldType) (string, error) {
	byType, ok := columnTypes[name]
	if !ok {
		return "", fmt.Errorf("unsupported dialect: %s", name)
	}
	ct, ok := byType[t]
	if !ok {
		return "", fmt.Errorf("unsupported field type: %q", t)
	}
	return ct, nil
}

// columnDef is one column of a generated table, rendered as
// "<ident> <definition>".
type columnDef struct {
	name string
	def  string
}

func entityColumns(name dialect.Name, d *schema.Descriptor, withConstraints bool) ([]columnDef, error) {
	cols := make([]columnDef, 0, len(d.Fields)+len(d.Relations)+1)
	if withConstraints {
		cols = append(cols, columnDef{name: types.IDField, def: primaryKeyType(name)})
	}
	for _, f := range d.Fields {
		ct, err := ColumnType(name, f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Slug, f.Name, err)
		}
		if withConstraints && f.Required {
			ct += " NOT NULL"
		}
		cols = append(cols, columnDef{name: f.ColumnName(), def: ct})
	}
	for _, rel := range d.ManyToOneRelations() {
		cols = append(cols, columnDef{name: rel.Column, def: referenceType(name)})
	}
	return cols, nil
}

// createTableQuery renders CREATE TABLE IF NOT EXISTS with identifiers as
// placeholders so bun quotes them for the dialect.
func createTableQuery(table string, cols []columnDef, tail string) (string, []interface{}) {
	var b strings.Builder
	args := []interface{}{bun.Ident(table)}
	b.WriteString("CREATE TABLE IF NOT EXISTS ? (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("? ")
		b.WriteString(c.def)
		args = append(args, bun.Ident(c.name))
	}
	if tail != "" {
		b.WriteString(", ")
		b.WriteString(tail)
	}
	b.WriteString(")")
	return b.String(), args
}

// CreateEntityTable creates the table of d unless it exists.
func CreateEntityTable(ctx context.Context, db bun.IDB, d *schema.Descriptor) error {
	name := db.Dialect().Name()
	cols, err := entityColumns(name, d, true)
	if err != nil {
		return err
	}
	query, args := createTableQuery(d.Table, cols, "")
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create table %s: %w", d.Table, err)
	}
	return nil
}

// CreateJoinTable creates the join table of a many-to-many relation. The
// pair of ids is the primary key.
func CreateJoinTable(ctx context.Context, db bun.IDB, rel schema.Relation) error {
	ref := referenceType(db.Dialect().Name())
	cols := []columnDef{
		{name: rel.JoinColumn, def: ref + " NOT NULL"},
		{name: rel.InverseJoinColumn, def: ref + " NOT NULL"},
	}
	query, args := createTableQuery(rel.JoinTable, cols, "PRIMARY KEY (?, ?)")
	args = append(args, bun.Ident(rel.JoinColumn), bun.Ident(rel.InverseJoinColumn))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create join table %s: %w", rel.JoinTable, err)
	}
	return nil
}

// CreateTables creates every entity and join table known to reg.
func CreateTables(ctx context.Context, db bun.IDB, reg schema.Registry) error {
	descriptors := reg.Descriptors()
	for _, d := range descriptors {
		if err := CreateEntityTable(ctx, db, d); err != nil {
			return err
		}
	}
	for _, d := range descriptors {
		for _, rel := range d.ManyToManyRelations() {
			if err := CreateJoinTable(ctx, db, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListColumns returns the lower-cased column names of table, or an empty
// set when the table does not exist.
func ListColumns(ctx context.Context, db bun.IDB, table string) (map[string]struct{}, error) {
	var query string
	switch db.Dialect().Name() {
	case dialect.SQLite:
		query = "SELECT name FROM pragma_table_info(?)"
	case dialect.PG:
		query = "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?"
	case dialect.MySQL:
		query = "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", db.Dialect().Name())
	}
	var names []string
	if err := db.NewRaw(query, table).Scan(ctx, &names); err != nil {
		if is, kind := IsSqlError(err); is && kind == NoRowsErr {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set, nil
}

// SynchronizeSchema creates missing tables and adds missing columns. It
// never drops or alters existing columns. Added columns are nullable since
// existing rows hold no value for them.
func SynchronizeSchema(ctx context.Context, db bun.IDB, reg schema.Registry, logger Logger) error {
	name := db.Dialect().Name()
	if err := CreateTables(ctx, db, reg); err != nil {
		return err
	}
	for _, d := range reg.Descriptors() {
		existing, err := ListColumns(ctx, db, d.Table)
		if err != nil {
			return fmt.Errorf("list columns of %s: %w", d.Table, err)
		}
		cols, err := entityColumns(name, d, false)
		if err != nil {
			return err
		}
		for _, c := range cols {
			if _, ok := existing[strings.ToLower(c.name)]; ok {
				continue
			}
			if _, err := db.ExecContext(ctx, "ALTER TABLE ? ADD COLUMN ? "+c.def,
				bun.Ident(d.Table), bun.Ident(c.name)); err != nil {
				if is, kind := IsSqlError(err); is && kind == ExistColumnErr {
					continue
				}
				return fmt.Errorf("add column %s.%s: %w", d.Table, c.name, err)
			}
			if logger != nil {
				logger.Info("schema column added", "table", d.Table, "column", c.name)
			}
		}
	}
	return nil
}
