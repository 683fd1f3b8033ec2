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

package schema

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
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
      - { name: title, type: string }
      - { name: pages, type: integer }
    relations:
      - { name: author, entity: author, type: many-to-one }
      - { name: tags, entity: tag, type: many-to-many }
`

func loadLibrary(t *testing.T) Registry {
	t.Helper()
	descriptors, err := Decode(strings.NewReader(libraryYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reg := NewRegistry()
	if err := RegisterAll(reg, descriptors...); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestRegistryDefaults(t *testing.T) {
	reg := loadLibrary(t)

	book, ok := reg.Lookup("book")
	if !ok {
		t.Fatal("book not registered")
	}
	if book.Table != "books" {
		t.Errorf("table = %q, want books", book.Table)
	}
	if got := book.DisplayField(); got != "title" {
		t.Errorf("display field = %q, want title", got)
	}
	if diff := cmp.Diff([]string{"author", "tags"}, book.RelationNames()); diff != "" {
		t.Errorf("relation names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"id", "title", "pages", "author_id"}, book.Columns()); diff != "" {
		t.Errorf("columns (-want +got):\n%s", diff)
	}

	tags, _ := book.Relation("tags")
	want := Relation{
		Name:              "tags",
		Entity:            "tag",
		Kind:              ManyToMany,
		JoinTable:         "books_tags",
		JoinColumn:        "book_id",
		InverseJoinColumn: "tag_id",
	}
	if diff := cmp.Diff(want, *tags); diff != "" {
		t.Errorf("tags relation (-want +got):\n%s", diff)
	}

	author, _ := reg.Lookup("author")
	if got := author.DisplayField(); got != DefaultPropIdentifier {
		t.Errorf("author display field = %q, want %q", got, DefaultPropIdentifier)
	}
	tag, _ := reg.Lookup("tag")
	if tag.Fields[0].Type != FieldString {
		t.Errorf("tag.label type = %q, want string", tag.Fields[0].Type)
	}
}

func TestRegistryOrder(t *testing.T) {
	reg := loadLibrary(t)
	var slugs []string
	for _, d := range reg.Descriptors() {
		slugs = append(slugs, d.Slug)
	}
	if diff := cmp.Diff([]string{"author", "tag", "book"}, slugs); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestLookupUnknown(t *testing.T) {
	reg := loadLibrary(t)
	if _, ok := reg.Lookup("publisher"); ok {
		t.Error("expected publisher to be unknown")
	}
}

func TestRegisterRejects(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
	}{
		{"empty slug", Descriptor{Slug: " "}},
		{"reserved id", Descriptor{Slug: "a", Fields: []Field{{Name: "id"}}}},
		{"duplicate field", Descriptor{Slug: "a", Fields: []Field{{Name: "x"}, {Name: "x"}}}},
		{"bad field type", Descriptor{Slug: "a", Fields: []Field{{Name: "x", Type: "blob"}}}},
		{"relation collides", Descriptor{Slug: "a", Fields: []Field{{Name: "x"}}, Relations: []Relation{{Name: "x", Entity: "b"}}}},
		{"relation without target", Descriptor{Slug: "a", Relations: []Relation{{Name: "x"}}}},
		{"bad relation kind", Descriptor{Slug: "a", Relations: []Relation{{Name: "x", Entity: "b", Kind: "one-to-one"}}}},
		{"field column is id", Descriptor{Slug: "a", Fields: []Field{{Name: "key", Column: "id"}}}},
		{"field column shadows foreign key", Descriptor{Slug: "a", Fields: []Field{{Name: "writer", Column: "author_id"}}, Relations: []Relation{{Name: "author", Entity: "b"}}}},
		{"two fields share a column", Descriptor{Slug: "a", Fields: []Field{{Name: "x"}, {Name: "y", Column: "x"}}}},
		{"two relations share a column", Descriptor{Slug: "a", Relations: []Relation{{Name: "x", Entity: "b", Column: "b_id"}, {Name: "y", Entity: "b", Column: "b_id"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewRegistry().Register(tt.desc); err == nil {
				t.Fatalf("expected error for %+v", tt.desc)
			}
		})
	}
}

func TestRegisterDuplicateSlug(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Descriptor{Slug: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(Descriptor{Slug: "a"}); err == nil {
		t.Fatal("expected duplicate slug error")
	}
}

func TestResolveUnknownTarget(t *testing.T) {
	reg := NewRegistry()
	err := RegisterAll(reg, Descriptor{Slug: "book", Relations: []Relation{{Name: "author", Entity: "author"}}})
	if err == nil || !strings.Contains(err.Error(), "unknown entity") {
		t.Fatalf("err = %v, want unknown entity", err)
	}
}

func TestSelfReferencingManyToMany(t *testing.T) {
	reg := NewRegistry()
	err := RegisterAll(reg, Descriptor{
		Slug:      "person",
		Relations: []Relation{{Name: "friends", Entity: "person", Kind: ManyToMany}},
	})
	if err != nil {
		t.Fatal(err)
	}
	person, _ := reg.Lookup("person")
	rel, _ := person.Relation("friends")
	if rel.JoinColumn != "person_id" || rel.InverseJoinColumn != "related_person_id" {
		t.Errorf("join columns = %q/%q", rel.JoinColumn, rel.InverseJoinColumn)
	}
	if rel.JoinTable != "people_people" {
		t.Errorf("join table = %q", rel.JoinTable)
	}
}

func TestDecodeUnknownKey(t *testing.T) {
	_, err := Decode(strings.NewReader("entities:\n  - slug: a\n    colour: red\n"))
	if err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestEnums(t *testing.T) {
	if k, ok := ParseRelationKind(" Many-To-Many "); !ok || k != ManyToMany {
		t.Errorf("ParseRelationKind = %v, %v", k, ok)
	}
	if RelationKind("one-to-one").Name() != "unknown" {
		t.Error("invalid relation kind should be named unknown")
	}
	if FieldJSON.Number() != 7 || !FieldJSON.IsValid() {
		t.Errorf("FieldJSON number = %d", FieldJSON.Number())
	}
}
