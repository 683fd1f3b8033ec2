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
	"fmt"
	"strings"
	"sync"

	"github.com/jinzhu/inflection"
	"github.com/tomoncle/morph/types"
)

var defaultRegistry = NewRegistry()

// Registry stores entity descriptors and exposes them in declaration order.
// Descriptors are registered once at startup and only read afterwards.
type Registry interface {
	// Register validates d, fills its defaults and stores it.
	Register(d Descriptor) error
	// Resolve checks that every relation targets a registered entity and
	// fills the join table defaults that depend on the target.
	Resolve() error
	// Lookup returns the descriptor whose slug equals slug.
	Lookup(slug string) (*Descriptor, bool)
	// Descriptors returns all descriptors in registration order.
	Descriptors() []*Descriptor
}

type registry struct {
	order []*Descriptor
	index map[string]*Descriptor
	mutex sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return &registry{index: make(map[string]*Descriptor)}
}

// Default returns the process-wide registry.
func Default() Registry {
	return defaultRegistry
}

func (r *registry) Register(d Descriptor) error {
	if err := normalize(&d); err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.index[d.Slug]; ok {
		return fmt.Errorf("entity %q is already registered", d.Slug)
	}
	stored := d
	r.order = append(r.order, &stored)
	r.index[d.Slug] = &stored
	return nil
}

func (r *registry) Resolve() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, d := range r.order {
		for i := range d.Relations {
			rel := &d.Relations[i]
			target, ok := r.index[rel.Entity]
			if !ok {
				return fmt.Errorf("entity %q: relation %q targets unknown entity %q", d.Slug, rel.Name, rel.Entity)
			}
			if rel.Kind != ManyToMany {
				continue
			}
			if rel.JoinTable == "" {
				rel.JoinTable = d.Table + "_" + target.Table
			}
			if rel.JoinColumn == "" {
				rel.JoinColumn = d.Slug + "_id"
			}
			if rel.InverseJoinColumn == "" {
				rel.InverseJoinColumn = target.Slug + "_id"
			}
			if rel.InverseJoinColumn == rel.JoinColumn {
				rel.InverseJoinColumn = "related_" + rel.InverseJoinColumn
			}
		}
	}
	return nil
}

func (r *registry) Lookup(slug string) (*Descriptor, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	d, ok := r.index[slug]
	return d, ok
}

func (r *registry) Descriptors() []*Descriptor {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	result := make([]*Descriptor, len(r.order))
	copy(result, r.order)
	return result
}

func normalize(d *Descriptor) error {
	d.Slug = strings.TrimSpace(d.Slug)
	if d.Slug == "" {
		return fmt.Errorf("entity slug cannot be empty")
	}
	if d.Table == "" {
		d.Table = inflection.Plural(d.Slug)
	}

	seen := map[string]struct{}{types.IDField: {}}
	fields := make([]Field, len(d.Fields))
	for i, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("entity %q: field %d has no name", d.Slug, i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("entity %q: duplicate or reserved field name %q", d.Slug, f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Type == "" {
			f.Type = FieldString
		}
		typ, ok := ParseFieldType(string(f.Type))
		if !ok {
			return fmt.Errorf("entity %q: field %q has unsupported type %q", d.Slug, f.Name, f.Type)
		}
		f.Type = typ
		fields[i] = f
	}
	d.Fields = fields

	relations := make([]Relation, len(d.Relations))
	for i, rel := range d.Relations {
		if rel.Name == "" {
			return fmt.Errorf("entity %q: relation %d has no name", d.Slug, i)
		}
		if _, dup := seen[rel.Name]; dup {
			return fmt.Errorf("entity %q: relation %q collides with another field", d.Slug, rel.Name)
		}
		seen[rel.Name] = struct{}{}
		if rel.Entity == "" {
			return fmt.Errorf("entity %q: relation %q has no target entity", d.Slug, rel.Name)
		}
		if rel.Kind == "" {
			rel.Kind = ManyToOne
		}
		kind, ok := ParseRelationKind(string(rel.Kind))
		if !ok {
			return fmt.Errorf("entity %q: relation %q has unsupported type %q", d.Slug, rel.Name, rel.Kind)
		}
		rel.Kind = kind
		if rel.Kind == ManyToOne && rel.Column == "" {
			rel.Column = rel.Name + "_id"
		}
		relations[i] = rel
	}
	d.Relations = relations

	columns := make(map[string]struct{})
	for _, col := range d.Columns() {
		if _, dup := columns[col]; dup {
			return fmt.Errorf("entity %q: column %q is mapped twice", d.Slug, col)
		}
		columns[col] = struct{}{}
	}
	return nil
}
