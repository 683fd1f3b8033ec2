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

package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/tomoncle/morph"
	"github.com/tomoncle/morph/database"
	"github.com/tomoncle/morph/schema"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const libraryYAML = `
entities:
  - slug: author
    fields:
      - { name: name, type: string, required: true }
  - slug: book
    propIdentifier: title
    fields:
      - { name: title, type: string, required: true }
    relations:
      - { name: author, entity: author }
`

func newTestServer(t *testing.T, opts Options) *httptest.Server {
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

	svc := morph.NewService(morph.WithDB(db), morph.WithRegistry(reg))
	srv := httptest.NewServer(NewHandler(svc, opts))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func TestCRUDRoundTrip(t *testing.T) {
	srv := newTestServer(t, Options{})

	status, body := do(t, srv, http.MethodPost, "/dynamic/author", `{"name":"Frank Herbert"}`)
	if status != http.StatusCreated {
		t.Fatalf("create author: %d %v", status, body)
	}
	status, body = do(t, srv, http.MethodPost, "/dynamic/book", `{"title":"Dune","author":1}`)
	if status != http.StatusCreated {
		t.Fatalf("create book: %d %v", status, body)
	}
	if diff := cmp.Diff(map[string]interface{}{"id": float64(1), "rowsAffected": float64(1)}, body); diff != "" {
		t.Fatalf("create result (-want +got):\n%s", diff)
	}

	status, body = do(t, srv, http.MethodGet, "/dynamic/book", "")
	if status != http.StatusOK {
		t.Fatalf("list: %d %v", status, body)
	}
	want := []interface{}{
		map[string]interface{}{
			"id":        float64(1),
			"title":     "Dune",
			"author_id": float64(1),
			"author":    map[string]interface{}{"id": float64(1), "name": "Frank Herbert"},
		},
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Fatalf("list (-want +got):\n%s", diff)
	}

	_, body = do(t, srv, http.MethodGet, "/dynamic/book?author=2&unknown=1", "")
	if diff := cmp.Diff([]interface{}{}, body); diff != "" {
		t.Fatalf("filtered list (-want +got):\n%s", diff)
	}
	_, body = do(t, srv, http.MethodGet, "/dynamic/book?author=1", "")
	if got := len(body.([]interface{})); got != 1 {
		t.Fatalf("filtered list has %d records", got)
	}

	_, body = do(t, srv, http.MethodGet, "/dynamic/book/select-options", "")
	if diff := cmp.Diff([]interface{}{map[string]interface{}{"id": float64(1), "label": "Dune"}}, body); diff != "" {
		t.Fatalf("select options (-want +got):\n%s", diff)
	}

	status, body = do(t, srv, http.MethodPut, "/dynamic/book/1", `{"title":"Dune Messiah"}`)
	if status != http.StatusOK {
		t.Fatalf("update: %d %v", status, body)
	}
	_, body = do(t, srv, http.MethodGet, "/dynamic/book/1", "")
	if got := body.(map[string]interface{})["title"]; got != "Dune Messiah" {
		t.Fatalf("title after update = %v", got)
	}

	status, body = do(t, srv, http.MethodDelete, "/dynamic/book/1", "")
	if status != http.StatusOK {
		t.Fatalf("delete: %d %v", status, body)
	}
	status, _ = do(t, srv, http.MethodGet, "/dynamic/book/1", "")
	if status != http.StatusNotFound {
		t.Fatalf("get after delete: %d", status)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := newTestServer(t, Options{})
	do(t, srv, http.MethodPost, "/dynamic/author", `{"name":"Ursula K. Le Guin"}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown entity", http.MethodGet, "/dynamic/ghost", "", http.StatusNotFound},
		{"unknown record", http.MethodPut, "/dynamic/author/42", `{"name":"x"}`, http.StatusNotFound},
		{"delete unknown record", http.MethodDelete, "/dynamic/author/42", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/dynamic/author/abc", "", http.StatusBadRequest},
		{"bad json", http.MethodPost, "/dynamic/author", `{"name":`, http.StatusBadRequest},
		{"missing required field", http.MethodPost, "/dynamic/book", `{"author":1}`, http.StatusUnprocessableEntity},
		{"invalid relation value", http.MethodPost, "/dynamic/book", `{"title":"x","author":true}`, http.StatusUnprocessableEntity},
		{"no known keys", http.MethodPut, "/dynamic/author/1", `{"nickname":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, srv, tt.method, tt.path, tt.body)
			if status != tt.want {
				t.Fatalf("status = %d, want %d (%v)", status, tt.want, body)
			}
			msg, ok := body.(map[string]interface{})["message"].(string)
			if !ok || msg == "" {
				t.Fatalf("missing message in %v", body)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Options{})
	if status, _ := do(t, srv, http.MethodGet, "/healthz", ""); status != http.StatusOK {
		t.Fatalf("healthz without a health func = %d", status)
	}

	down := newTestServer(t, Options{
		Health: func(context.Context) *database.HealthStatus {
			return &database.HealthStatus{Healthy: false, LastError: "connection refused"}
		},
		Stats: func() *database.DBStats {
			return &database.DBStats{MaxOpenConns: 4, OpenConns: 1}
		},
	})
	status, body := do(t, down, http.MethodGet, "/healthz", "")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d, want 503", status)
	}
	if got := body.(map[string]interface{})["last_error"]; got != "connection refused" {
		t.Fatalf("last_error = %v", got)
	}
	stats, ok := body.(map[string]interface{})["stats"].(map[string]interface{})
	if !ok || stats["max_open_conns"] != float64(4) || stats["open_conns"] != float64(1) {
		t.Fatalf("stats = %v", body.(map[string]interface{})["stats"])
	}
}

func TestBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, Options{})
	big := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	status, body := do(t, srv, http.MethodPost, "/dynamic/author", big)
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (%v)", status, body)
	}
	if status, _ := do(t, srv, http.MethodGet, "/dynamic/author", ""); status != http.StatusOK {
		t.Fatalf("list after rejected body = %d", status)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, Options{AllowedOrigins: []string{"http://admin.test"}})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/dynamic/author", nil)
	req.Header.Set("Origin", "http://admin.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://admin.test" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/dynamic/author", nil)
	req.Header.Set("Origin", "http://evil.test")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}
