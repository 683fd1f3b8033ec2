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
	"os"
	"slices"
	"strings"

	"github.com/tomoncle/morph/schema"
	"github.com/tomoncle/morph/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"gopkg.in/yaml.v3"
)

var referentialActions = []string{"CASCADE", "RESTRICT", "SET NULL", "NO ACTION"}

// ForeignKeyConstraint describes a foreign key relationship between tables.
type ForeignKeyConstraint struct {
	Table           string `yaml:"table"`
	Column          string `yaml:"column"`
	ReferenceTable  string `yaml:"reference_table"`
	ReferenceColumn string `yaml:"reference_column"`
	OnDelete        string `yaml:"on_delete"` // CASCADE, RESTRICT, SET NULL, NO ACTION
	OnUpdate        string `yaml:"on_update"`
	ConstraintName  string `yaml:"name"`
}

// GenerateConstraintName returns the explicit name or fk_<table>_<column>.
func (fk *ForeignKeyConstraint) GenerateConstraintName() string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return fmt.Sprintf("fk_%s_%s", fk.Table, fk.Column)
}

// Query returns the ALTER TABLE statement adding the constraint along with
// its identifier arguments.
func (fk *ForeignKeyConstraint) Query() (string, []interface{}) {
	query := "ALTER TABLE ? ADD CONSTRAINT ? FOREIGN KEY (?) REFERENCES ? (?)"
	if fk.OnDelete != "" {
		query += " ON DELETE " + strings.ToUpper(fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		query += " ON UPDATE " + strings.ToUpper(fk.OnUpdate)
	}
	return query, []interface{}{
		bun.Ident(fk.Table),
		bun.Ident(fk.GenerateConstraintName()),
		bun.Ident(fk.Column),
		bun.Ident(fk.ReferenceTable),
		bun.Ident(fk.ReferenceColumn),
	}
}

type foreignKeyFile struct {
	ForeignKeys []ForeignKeyConstraint `yaml:"foreign_keys"`
}

// ForeignKeyManager adds the constraints implied by the entity relations,
// plus any listed in an optional YAML file.
type ForeignKeyManager struct {
	constraints []ForeignKeyConstraint
	logger      Logger
}

// NewForeignKeyManager derives constraints from reg. Many-to-one columns
// reference the target id with ON DELETE SET NULL; join table columns
// cascade.
func NewForeignKeyManager(reg schema.Registry, logger Logger) *ForeignKeyManager {
	return &ForeignKeyManager{
		constraints: relationConstraints(reg),
		logger:      logger,
	}
}

// LoadFile appends the constraints listed under foreign_keys in path.
func (fkm *ForeignKeyManager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read foreign key file: %w", err)
	}
	var file foreignKeyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse foreign key file %s: %w", path, err)
	}
	for _, fk := range file.ForeignKeys {
		if fk.ReferenceColumn == "" {
			fk.ReferenceColumn = types.IDField
		}
		fkm.constraints = append(fkm.constraints, fk)
	}
	return nil
}

func relationConstraints(reg schema.Registry) []ForeignKeyConstraint {
	var out []ForeignKeyConstraint
	for _, d := range reg.Descriptors() {
		for _, rel := range d.Relations {
			target, ok := reg.Lookup(rel.Entity)
			if !ok {
				continue
			}
			switch rel.Kind {
			case schema.ManyToOne:
				out = append(out, ForeignKeyConstraint{
					Table:           d.Table,
					Column:          rel.Column,
					ReferenceTable:  target.Table,
					ReferenceColumn: types.IDField,
					OnDelete:        "SET NULL",
				})
			case schema.ManyToMany:
				out = append(out,
					ForeignKeyConstraint{
						Table:           rel.JoinTable,
						Column:          rel.JoinColumn,
						ReferenceTable:  d.Table,
						ReferenceColumn: types.IDField,
						OnDelete:        "CASCADE",
					},
					ForeignKeyConstraint{
						Table:           rel.JoinTable,
						Column:          rel.InverseJoinColumn,
						ReferenceTable:  target.Table,
						ReferenceColumn: types.IDField,
						OnDelete:        "CASCADE",
					})
			}
		}
	}
	return out
}

// AddAllForeignKeys adds every constraint. A constraint that fails, usually
// because it already exists, is logged and skipped. SQLite cannot add
// constraints to existing tables, so nothing is done there.
func (fkm *ForeignKeyManager) AddAllForeignKeys(ctx context.Context, db bun.IDB) error {
	if db.Dialect().Name() == dialect.SQLite {
		fkm.logger.Debug("foreign keys skipped on sqlite", "constraints", len(fkm.constraints))
		return nil
	}
	for _, constraint := range fkm.constraints {
		query, args := constraint.Query()
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			fkm.logger.Debug("failed to add foreign key constraint",
				"constraint", constraint.GenerateConstraintName(), "error", err.Error())
			continue
		}
		fkm.logger.Debug("foreign key constraint added", "constraint", constraint.GenerateConstraintName())
	}
	return nil
}

// GetConstraintsByTable returns the constraints defined on a table.
func (fkm *ForeignKeyManager) GetConstraintsByTable(tableName string) []ForeignKeyConstraint {
	var result []ForeignKeyConstraint
	for _, constraint := range fkm.constraints {
		if strings.EqualFold(constraint.Table, tableName) {
			result = append(result, constraint)
		}
	}
	return result
}

func (fkm *ForeignKeyManager) ListAllConstraints() []ForeignKeyConstraint {
	return fkm.constraints
}

// ValidateConstraints reports incomplete constraints and unknown
// referential actions.
func (fkm *ForeignKeyManager) ValidateConstraints() []error {
	var errs []error
	validAction := func(action string) bool {
		return action == "" || slices.Contains(referentialActions, strings.ToUpper(action))
	}
	for _, c := range fkm.constraints {
		switch {
		case c.Table == "":
			errs = append(errs, fmt.Errorf("table name cannot be empty"))
		case c.Column == "":
			errs = append(errs, fmt.Errorf("column name cannot be empty: %s", c.Table))
		case c.ReferenceTable == "":
			errs = append(errs, fmt.Errorf("reference table name cannot be empty: %s.%s", c.Table, c.Column))
		case c.ReferenceColumn == "":
			errs = append(errs, fmt.Errorf("reference column name cannot be empty: %s.%s -> %s", c.Table, c.Column, c.ReferenceTable))
		}
		if !validAction(c.OnDelete) {
			errs = append(errs, fmt.Errorf("invalid delete policy: %s, constraint: %s", c.OnDelete, c.GenerateConstraintName()))
		}
		if !validAction(c.OnUpdate) {
			errs = append(errs, fmt.Errorf("invalid update policy: %s, constraint: %s", c.OnUpdate, c.GenerateConstraintName()))
		}
	}
	return errs
}
