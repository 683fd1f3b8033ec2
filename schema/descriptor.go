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
	"github.com/tomoncle/morph/types"
)

// DefaultPropIdentifier is the display field used when a descriptor names none.
const DefaultPropIdentifier = "name"

// FieldType is the storage type of a scalar field.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldText      FieldType = "text"
	FieldInteger   FieldType = "integer"
	FieldNumber    FieldType = "number"
	FieldBoolean   FieldType = "boolean"
	FieldDate      FieldType = "date"
	FieldTimestamp FieldType = "timestamp"
	FieldJSON      FieldType = "json"
)

var fieldTypes = []FieldType{
	FieldString, FieldText, FieldInteger, FieldNumber,
	FieldBoolean, FieldDate, FieldTimestamp, FieldJSON,
}

var _ types.BaseEnum = FieldString

func (t FieldType) IsValid() bool { return t.Number() != types.IllegalValue }

func (t FieldType) Number() int {
	for i, v := range fieldTypes {
		if v == t {
			return i
		}
	}
	return types.IllegalValue
}

func (t FieldType) String() string { return string(t) }

func (t FieldType) Name() string {
	if !t.IsValid() {
		return types.IllegalName
	}
	return string(t)
}

func (t FieldType) Desc() string {
	switch t {
	case FieldString:
		return "short text"
	case FieldText:
		return "long text"
	case FieldInteger:
		return "64-bit integer"
	case FieldNumber:
		return "floating point number"
	case FieldBoolean:
		return "true/false"
	case FieldDate:
		return "calendar date"
	case FieldTimestamp:
		return "date and time"
	case FieldJSON:
		return "JSON document"
	default:
		return types.IllegalDesc
	}
}

// ParseFieldType resolves a field type by name.
func ParseFieldType(name string) (FieldType, bool) {
	return types.ParseEnum(name, fieldTypes...)
}

// RelationKind is the cardinality of a relation.
type RelationKind string

const (
	// ManyToOne stores the related id in a column of the owning table.
	ManyToOne RelationKind = "many-to-one"
	// ManyToMany stores pairs of ids in a join table.
	ManyToMany RelationKind = "many-to-many"
)

var relationKinds = []RelationKind{ManyToOne, ManyToMany}

var _ types.BaseEnum = ManyToOne

func (k RelationKind) IsValid() bool { return k.Number() != types.IllegalValue }

func (k RelationKind) Number() int {
	for i, v := range relationKinds {
		if v == k {
			return i
		}
	}
	return types.IllegalValue
}

func (k RelationKind) String() string { return string(k) }

func (k RelationKind) Name() string {
	if !k.IsValid() {
		return types.IllegalName
	}
	return string(k)
}

func (k RelationKind) Desc() string {
	switch k {
	case ManyToOne:
		return "foreign key column on the owning table"
	case ManyToMany:
		return "join table holding both ids"
	default:
		return types.IllegalDesc
	}
}

// ParseRelationKind resolves a relation kind by name.
func ParseRelationKind(name string) (RelationKind, bool) {
	return types.ParseEnum(name, relationKinds...)
}

// Field is a scalar column of an entity.
type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
	Column   string    `yaml:"column,omitempty" json:"column,omitempty"`
}

// ColumnName returns the storage column, defaulting to the field name.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Relation references records of another entity type by id.
type Relation struct {
	Name   string       `yaml:"name" json:"name"`
	Entity string       `yaml:"entity" json:"entity"`
	Kind   RelationKind `yaml:"type" json:"type"`

	// Column is the foreign key column of a many-to-one relation.
	Column string `yaml:"column,omitempty" json:"column,omitempty"`

	// JoinTable, JoinColumn and InverseJoinColumn locate a many-to-many
	// relation: JoinColumn holds the owner id, InverseJoinColumn the target id.
	JoinTable         string `yaml:"joinTable,omitempty" json:"joinTable,omitempty"`
	JoinColumn        string `yaml:"joinColumn,omitempty" json:"joinColumn,omitempty"`
	InverseJoinColumn string `yaml:"inverseJoinColumn,omitempty" json:"inverseJoinColumn,omitempty"`
}

// Descriptor is the runtime metadata of one entity type.
type Descriptor struct {
	Slug           string     `yaml:"slug" json:"slug"`
	Table          string     `yaml:"table,omitempty" json:"table"`
	PropIdentifier string     `yaml:"propIdentifier,omitempty" json:"propIdentifier"`
	Fields         []Field    `yaml:"fields,omitempty" json:"fields"`
	Relations      []Relation `yaml:"relations,omitempty" json:"relations"`
}

// RelationNames returns the relation names in declaration order.
func (d *Descriptor) RelationNames() []string {
	names := make([]string, len(d.Relations))
	for i, rel := range d.Relations {
		names[i] = rel.Name
	}
	return names
}

// DisplayField returns the field used to label a record.
func (d *Descriptor) DisplayField() string {
	if d.PropIdentifier == "" {
		return DefaultPropIdentifier
	}
	return d.PropIdentifier
}

// Relation returns the relation called name.
func (d *Descriptor) Relation(name string) (*Relation, bool) {
	for i := range d.Relations {
		if d.Relations[i].Name == name {
			return &d.Relations[i], true
		}
	}
	return nil, false
}

// Field returns the field called name.
func (d *Descriptor) Field(name string) (*Field, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], true
		}
	}
	return nil, false
}

// Columns returns every column of the entity table: the id, the scalar
// fields and the many-to-one foreign keys.
func (d *Descriptor) Columns() []string {
	cols := []string{types.IDField}
	for _, f := range d.Fields {
		cols = append(cols, f.ColumnName())
	}
	for _, rel := range d.Relations {
		if rel.Kind == ManyToOne {
			cols = append(cols, rel.Column)
		}
	}
	return cols
}

// ManyToOneRelations returns the relations stored as a foreign key column.
func (d *Descriptor) ManyToOneRelations() []Relation {
	return d.relationsOf(ManyToOne)
}

// ManyToManyRelations returns the relations stored in a join table.
func (d *Descriptor) ManyToManyRelations() []Relation {
	return d.relationsOf(ManyToMany)
}

func (d *Descriptor) relationsOf(kind RelationKind) []Relation {
	var out []Relation
	for _, rel := range d.Relations {
		if rel.Kind == kind {
			out = append(out, rel)
		}
	}
	return out
}
