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

package morph

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tomoncle/morph/database"
	"github.com/tomoncle/morph/events"
	"github.com/tomoncle/morph/repository"
	"github.com/tomoncle/morph/schema"
	"github.com/tomoncle/morph/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const libraryYAML = `
entities:
  - slug: author
    fields:
      - { name: name, type: string, required: true }
  - slug: genre
    fields:
      - { name: name }
  - slug: book
    propIdentifier: title
    fields:
      - { name: title, type: string, required: true }
      - { name: year, type: integer }
    relations:
      - { name: author, entity: author }
      - { name: genres, entity: genre, type: many-to-many }
`

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService(t *testing.T, pub events.Publisher) Service {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	descriptors, err := schema.Decode(strings.NewReader(libraryYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reg := schema.NewRegistry()
	if err := schema.RegisterAll(reg, descriptors...); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := database.CreateTables(context.Background(), db, reg); err != nil {
		t.Fatalf("create tables: %v", err)
	}
	return NewService(WithDB(db), WithRegistry(reg), WithPublisher(pub))
}

func mustCreate(t *testing.T, svc Service, slug string, payload types.Record) int64 {
	t.Helper()
	res, err := svc.Create(context.Background(), slug, payload)
	if err != nil {
		t.Fatalf("create %s: %v", slug, err)
	}
	return res.ID
}

func TestUnknownEntity(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	calls := map[string]func() error{
		"resolve": func() error { _, err := svc.ResolveDescriptor("ghost"); return err },
		"listAll": func() error { _, err := svc.ListAll(ctx, "ghost", nil); return err },
		"options": func() error { _, err := svc.ListSelectOptions(ctx, "ghost"); return err },
		"getOne":  func() error { _, err := svc.GetOne(ctx, "ghost", 1); return err },
		"create":  func() error { _, err := svc.Create(ctx, "ghost", types.Record{}); return err },
		"update":  func() error { _, err := svc.Update(ctx, "ghost", 1, types.Record{}); return err },
		"delete":  func() error { _, err := svc.Delete(ctx, "ghost", 1); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, ErrEntityNotFound) {
				t.Fatalf("error = %v, want ErrEntityNotFound", err)
			}
		})
	}
}

func TestUnknownRecord(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)
	ctx := context.Background()

	if _, err := svc.GetOne(ctx, "book", 42); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("GetOne error = %v", err)
	}
	if _, err := svc.Update(ctx, "book", 42, types.Record{"title": "x"}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Update error = %v", err)
	}
	if _, err := svc.Delete(ctx, "book", 42); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Delete error = %v", err)
	}
	if got := pub.kinds(); len(got) != 0 {
		t.Fatalf("events published for failed writes: %v", got)
	}
}

func TestBookScenario(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	herbert := mustCreate(t, svc, "author", types.Record{"name": "Frank Herbert"})
	other := mustCreate(t, svc, "author", types.Record{"name": "Someone Else"})
	for i := 0; i < 11; i++ {
		mustCreate(t, svc, "book", types.Record{"title": "filler", "author": other})
	}
	dune := mustCreate(t, svc, "book", types.Record{"title": "Dune", "year": 1965, "author": herbert})
	if dune != 12 {
		t.Fatalf("dune id = %d", dune)
	}

	single, err := svc.ListAll(ctx, "book", types.QueryParams{"author": "1"})
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	list, err := svc.ListAll(ctx, "book", types.QueryParams{"author": []string{"1"}})
	if err != nil {
		t.Fatalf("ListAll list: %v", err)
	}
	if diff := cmp.Diff(single, list); diff != "" {
		t.Fatalf("single value and one-element list differ (-single +list):\n%s", diff)
	}
	if len(single) != 1 || single[0]["title"] != "Dune" {
		t.Fatalf("filtered books = %v", single)
	}
	author, ok := single[0]["author"].(types.Record)
	if !ok || author["id"] != herbert {
		t.Fatalf("author not eager-loaded: %#v", single[0]["author"])
	}

	options, err := svc.ListSelectOptions(ctx, "book")
	if err != nil {
		t.Fatalf("ListSelectOptions: %v", err)
	}
	if len(options) != 12 {
		t.Fatalf("options = %d", len(options))
	}
	if diff := cmp.Diff(types.SelectOption{ID: 12, Label: "Dune"}, options[0]); diff != "" {
		t.Fatalf("first option (-want +got):\n%s", diff)
	}
}

func TestListAllOrderAndIgnoredKeys(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	a := mustCreate(t, svc, "author", types.Record{"name": "A"})
	b := mustCreate(t, svc, "author", types.Record{"name": "B"})
	c := mustCreate(t, svc, "author", types.Record{"name": "C"})

	all, err := svc.ListAll(ctx, "author", types.QueryParams{})
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	var ids []int64
	for _, rec := range all {
		id, _ := rec.ID()
		ids = append(ids, id)
	}
	if diff := cmp.Diff([]int64{c, b, a}, ids); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}

	ignored, err := svc.ListAll(ctx, "author", types.QueryParams{"name": "A", "bogus": []string{"1", "2"}})
	if err != nil {
		t.Fatalf("ListAll ignored: %v", err)
	}
	if diff := cmp.Diff(all, ignored); diff != "" {
		t.Fatalf("non-relation keys changed the result (-want +got):\n%s", diff)
	}

	empty, err := svc.ListAll(ctx, "book", nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("ListAll(book) = %v, %v", empty, err)
	}
}

func TestManyToManyFilterAndOptions(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	scifi := mustCreate(t, svc, "genre", types.Record{"name": "sci-fi"})
	drama := mustCreate(t, svc, "genre", types.Record{"name": "drama"})
	mustCreate(t, svc, "book", types.Record{"title": "Dune", "genres": []interface{}{scifi, drama}})
	mustCreate(t, svc, "book", types.Record{"title": "Hamlet", "genres": []interface{}{drama}})

	got, err := svc.ListAll(ctx, "book", types.QueryParams{"genres": []string{"1"}})
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(got) != 1 || got[0]["title"] != "Dune" {
		t.Fatalf("books = %v", got)
	}
	if genres := got[0]["genres"].([]types.Record); len(genres) != 2 {
		t.Fatalf("genres = %v", genres)
	}

	// Genres name no propIdentifier, so labels come from "name".
	options, err := svc.ListSelectOptions(ctx, "genre")
	if err != nil {
		t.Fatalf("ListSelectOptions: %v", err)
	}
	want := []types.SelectOption{{ID: drama, Label: "drama"}, {ID: scifi, Label: "sci-fi"}}
	if diff := cmp.Diff(want, options); diff != "" {
		t.Fatalf("options (-want +got):\n%s", diff)
	}
}

func TestSelectOptionMissingDisplayField(t *testing.T) {
	svc := newTestService(t, nil)
	id := mustCreate(t, svc, "genre", types.Record{})
	options, err := svc.ListSelectOptions(context.Background(), "genre")
	if err != nil {
		t.Fatalf("ListSelectOptions: %v", err)
	}
	if diff := cmp.Diff([]types.SelectOption{{ID: id, Label: nil}}, options); diff != "" {
		t.Fatalf("options (-want +got):\n%s", diff)
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)
	ctx := context.Background()

	id := mustCreate(t, svc, "book", types.Record{"title": "Dune", "year": float64(1965)})
	rec, err := svc.GetOne(ctx, "book", id)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if rec["title"] != "Dune" || rec["year"] != int64(1965) {
		t.Fatalf("created record = %v", rec)
	}

	res, err := svc.Update(ctx, "book", id, types.Record{"year": 1966})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.RowsAffected != 1 {
		t.Fatalf("RowsAffected = %d", res.RowsAffected)
	}
	rec, err = svc.GetOne(ctx, "book", id)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if rec["title"] != "Dune" || rec["year"] != int64(1966) {
		t.Fatalf("updated record = %v", rec)
	}

	del, err := svc.Delete(ctx, "book", id)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if del.RowsAffected != 1 {
		t.Fatalf("RowsAffected = %d", del.RowsAffected)
	}
	if _, err := svc.GetOne(ctx, "book", id); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("GetOne after delete error = %v", err)
	}

	want := []events.EventType{events.RecordCreated, events.RecordUpdated, events.RecordDeleted}
	if diff := cmp.Diff(want, pub.kinds()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if pub.events[0].RecordID != id || pub.events[0].Entity != "book" {
		t.Fatalf("created event = %+v", pub.events[0])
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newTestService(t, pub)

	res, err := svc.Create(context.Background(), "author", types.Record{"name": "A"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.ID != 1 {
		t.Fatalf("id = %d", res.ID)
	}
}

func TestStorageErrorsPropagate(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Create(context.Background(), "author", types.Record{"name": nil})
	if err == nil {
		t.Fatal("expected NOT NULL violation")
	}
	if errors.Is(err, ErrEntityNotFound) || errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("storage error classified as not found: %v", err)
	}
	if is, kind := database.IsSqlError(err); !is || kind != database.NotNullViolationErr {
		t.Fatalf("IsSqlError = %v, %v", is, kind)
	}
}

func TestUnreadableFilterMatchesNothing(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	herbert := mustCreate(t, svc, "author", types.Record{"name": "Frank Herbert"})
	mustCreate(t, svc, "book", types.Record{"title": "Dune", "author": herbert})
	mustCreate(t, svc, "book", types.Record{"title": "Orphan"})

	for name, params := range map[string]types.QueryParams{
		"mixed list": {"author": []interface{}{"1", true}},
		"bool":       {"author": true},
		"null":       {"author": nil},
	} {
		got, err := svc.ListAll(ctx, "book", params)
		if err != nil {
			t.Fatalf("%s: ListAll: %v", name, err)
		}
		if len(got) != 0 {
			t.Fatalf("%s: got %d books, want none", name, len(got))
		}
	}
}

func TestIntegerOutOfRange(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	id := mustCreate(t, svc, "book", types.Record{"title": "Big", "year": 1e19})
	rec, err := svc.GetOne(ctx, "book", id)
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if rec["year"] != 1e19 {
		t.Fatalf("year = %#v, want 1e19 unchanged", rec["year"])
	}

	_, err = svc.Create(ctx, "book", types.Record{"title": "Lost", "author": 1e19})
	if !errors.Is(err, repository.ErrInvalidRelationValue) {
		t.Fatalf("Create with out of range author error = %v", err)
	}
}

func TestUpdateWithoutKnownKeys(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	id := mustCreate(t, svc, "book", types.Record{"title": "Dune"})
	if _, err := svc.Update(ctx, "book", id, types.Record{"bogus": 1, "id": 99}); !errors.Is(err, repository.ErrNoUpdateValues) {
		t.Fatalf("Update error = %v, want ErrNoUpdateValues", err)
	}
	if _, err := svc.Update(ctx, "book", id+1, types.Record{"bogus": 1}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Update of missing record error = %v, want ErrRecordNotFound", err)
	}
}
