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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tomoncle/morph/schema"
	"github.com/uptrace/bun"
)

const libraryYAML = `
entities:
  - slug: author
    fields:
      - { name: name, type: string, required: true }
  - slug: tag
    propIdentifier: label
    fields:
      - { name: label }
  - slug: book
    propIdentifier: title
    fields:
      - { name: title, type: string, required: true }
      - { name: pages, type: integer }
      - { name: meta, type: json }
    relations:
      - { name: author, entity: author, type: many-to-one }
      - { name: tags, entity: tag, type: many-to-many }
`

func libraryRegistry(t *testing.T, doc string) schema.Registry {
	t.Helper()
	descriptors, err := schema.Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reg := schema.NewRegistry()
	if err := schema.RegisterAll(reg, descriptors...); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func openMemory(t *testing.T) *bun.DB {
	t.Helper()
	cfg := DefaultConnectionConfig()
	cfg.DBName = memoryDBName
	cfg.HealthCheckInterval = 0
	m := NewDatabaseManager(cfg)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = m.Disconnect() })
	return m.GetDB()
}

func columnNames(t *testing.T, db bun.IDB, table string) []string {
	t.Helper()
	set, err := ListColumns(context.Background(), db, table)
	if err != nil {
		t.Fatalf("list columns %s: %v", table, err)
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunMigrationsCreatesTablesAndSeeds(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	reg := libraryRegistry(t, libraryYAML)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "common", "001_authors.sql"),
		"INSERT INTO authors (id, name) VALUES (1, 'Frank Herbert');\n")
	writeFile(t, filepath.Join(root, "environments", "test", "010_books.sql"),
		"-- seeded per environment\nINSERT INTO books (id, title, author_id)\nVALUES (12, '{{.ENVIRONMENT}} Dune', 1);\n")

	cfg := &Config{
		DataMigrateConfig: DataMigrateConfig{EnableMigrateOnStartup: true, EnableForeignKey: true},
		DataInitConfig:    DataInitConfig{AutoInitOnMigration: true, Filepath: root, Environment: "test"},
	}
	mm := NewMigrationManager(db, reg, cfg, nil)
	if err := mm.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	if diff := cmp.Diff([]string{"author_id", "id", "meta", "pages", "title"}, columnNames(t, db, "books")); diff != "" {
		t.Errorf("books columns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"book_id", "tag_id"}, columnNames(t, db, "books_tags")); diff != "" {
		t.Errorf("books_tags columns (-want +got):\n%s", diff)
	}

	var title string
	if err := db.NewSelect().TableExpr("books").ColumnExpr("title").Where("id = ?", 12).Scan(ctx, &title); err != nil {
		t.Fatalf("select seeded book: %v", err)
	}
	if title != "test Dune" {
		t.Fatalf("title = %q", title)
	}

	applied, err := mm.GetAppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("GetAppliedMigrations: %v", err)
	}
	var versions []string
	for _, m := range applied {
		versions = append(versions, m.Version)
	}
	if diff := cmp.Diff([]string{"001", "002", "003"}, versions); diff != "" {
		t.Errorf("applied versions (-want +got):\n%s", diff)
	}

	// A second run must not replay the seeds.
	if err := mm.RunMigrations(ctx); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}
	count, err := db.NewSelect().TableExpr("books").Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("books count = %d after rerun", count)
	}
}

func TestSynchronizeSchemaAddsMissingColumns(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	if err := CreateTables(ctx, db, libraryRegistry(t, libraryYAML)); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}

	grown := strings.Replace(libraryYAML,
		"      - { name: meta, type: json }\n",
		"      - { name: meta, type: json }\n      - { name: published, type: date }\n      - { name: rating, type: number, required: true }\n", 1)
	grown += `  - slug: publisher
    fields:
      - { name: name }
`
	if err := SynchronizeSchema(ctx, db, libraryRegistry(t, grown), GetLogger()); err != nil {
		t.Fatalf("SynchronizeSchema: %v", err)
	}

	want := []string{"author_id", "id", "meta", "pages", "published", "rating", "title"}
	if diff := cmp.Diff(want, columnNames(t, db, "books")); diff != "" {
		t.Errorf("books columns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"id", "name"}, columnNames(t, db, "publishers")); diff != "" {
		t.Errorf("publishers columns (-want +got):\n%s", diff)
	}
}

func TestListColumnsMissingTable(t *testing.T) {
	db := openMemory(t)
	cols, err := ListColumns(context.Background(), db, "ghosts")
	if err != nil {
		t.Fatalf("ListColumns: %v", err)
	}
	if len(cols) != 0 {
		t.Fatalf("expected no columns, got %v", cols)
	}
}

func TestMigrateDisabled(t *testing.T) {
	db := openMemory(t)
	reg := libraryRegistry(t, libraryYAML)
	if err := Migrate(context.Background(), db, reg, &Config{}); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if cols := columnNames(t, db, "books"); len(cols) != 0 {
		t.Fatalf("tables created while migrations are disabled: %v", cols)
	}
}
