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
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tomoncle/morph/database"
	"github.com/tomoncle/morph/events"
	"github.com/tomoncle/morph/repository"
	"github.com/tomoncle/morph/schema"
	"github.com/tomoncle/morph/types"
	"github.com/tomoncle/morph/utils"
	"github.com/uptrace/bun"
)

// Service performs CRUD on any registered entity type, addressed by slug.
type Service interface {
	// ResolveDescriptor returns the descriptor registered under slug.
	ResolveDescriptor(slug string) (*schema.Descriptor, error)

	// ListAll returns every record ordered by id descending with all
	// relations loaded. Params keyed by a relation name filter on that
	// relation's ids; other keys are ignored.
	ListAll(ctx context.Context, slug string, params types.QueryParams) ([]types.Record, error)

	// ListSelectOptions labels each record of ListAll with its display field.
	ListSelectOptions(ctx context.Context, slug string) ([]types.SelectOption, error)

	// GetOne returns the record with id, relations loaded.
	GetOne(ctx context.Context, slug string, id int64) (types.Record, error)

	// Create inserts payload as a new record.
	Create(ctx context.Context, slug string, payload types.Record) (*repository.InsertResult, error)

	// Update writes the keys of payload to an existing record.
	Update(ctx context.Context, slug string, id int64, payload types.Record) (*repository.UpdateResult, error)

	// Delete removes an existing record.
	Delete(ctx context.Context, slug string, id int64) (*repository.DeleteResult, error)
}

type dynamicServiceImpl struct {
	db        *bun.DB
	registry  schema.Registry
	publisher events.Publisher
	logger    *logrus.Logger
	once      sync.Once
}

// NewService returns the default Service. Without options it serves the
// descriptors of schema.Default() from the global database.
func NewService(opts ...Option) Service {
	s := &dynamicServiceImpl{
		publisher: events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = schema.Default()
	}
	if s.logger == nil {
		s.logger = utils.GetLogger("ENTITY")
	}
	return s
}

func (s *dynamicServiceImpl) getDB() *bun.DB {
	s.once.Do(func() {
		if s.db == nil {
			s.db = database.GetDB()
		}
	})
	return s.db
}

func (s *dynamicServiceImpl) ResolveDescriptor(slug string) (*schema.Descriptor, error) {
	desc, ok := s.registry.Lookup(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, slug)
	}
	return desc, nil
}

func (s *dynamicServiceImpl) repoFor(slug string) (repository.DynamicRepository, error) {
	desc, err := s.ResolveDescriptor(slug)
	if err != nil {
		return nil, err
	}
	db := s.getDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	return repository.NewDynamicRepository(db, s.registry, desc), nil
}

func (s *dynamicServiceImpl) ListAll(ctx context.Context, slug string, params types.QueryParams) ([]types.Record, error) {
	repo, err := s.repoFor(slug)
	if err != nil {
		return nil, err
	}
	relations := repo.Descriptor().RelationNames()

	var filters []repository.RelationFilter
	for _, name := range relations {
		if _, present := params[name]; !present {
			continue
		}
		// A value that cannot be read as ids filters everything out.
		values, _ := params.Values(name)
		filters = append(filters, repository.RelationFilter{
			Relation: name,
			IDs:      types.CoerceIDs(values),
		})
	}

	s.logger.WithFields(logrus.Fields{"entity": slug, "filters": len(filters)}).Debug("list records")
	return repo.Query(ctx, repository.QueryOptions{
		Filters:   filters,
		EagerLoad: relations,
	})
}

func (s *dynamicServiceImpl) ListSelectOptions(ctx context.Context, slug string) ([]types.SelectOption, error) {
	records, err := s.ListAll(ctx, slug, nil)
	if err != nil {
		return nil, err
	}
	desc, err := s.ResolveDescriptor(slug)
	if err != nil {
		return nil, err
	}
	display := desc.DisplayField()

	options := make([]types.SelectOption, 0, len(records))
	for _, rec := range records {
		id, _ := rec.ID()
		options = append(options, types.SelectOption{ID: id, Label: rec[display]})
	}
	return options, nil
}

func (s *dynamicServiceImpl) GetOne(ctx context.Context, slug string, id int64) (types.Record, error) {
	repo, err := s.repoFor(slug)
	if err != nil {
		return nil, err
	}
	rec, err := repo.GetByID(ctx, id, repo.Descriptor().RelationNames()...)
	if err != nil {
		return nil, s.notFound(err, slug, id)
	}
	return rec, nil
}

func (s *dynamicServiceImpl) Create(ctx context.Context, slug string, payload types.Record) (*repository.InsertResult, error) {
	repo, err := s.repoFor(slug)
	if err != nil {
		return nil, err
	}
	result, err := repo.Insert(ctx, payload)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"entity": slug, "id": result.ID}).Debug("record created")
	s.publish(ctx, events.NewEvent(events.RecordCreated, slug, result.ID, payload))
	return result, nil
}

// Update and Delete check existence before writing. A concurrent delete
// between the two steps is not detected and shows as zero rows affected.
func (s *dynamicServiceImpl) Update(ctx context.Context, slug string, id int64, payload types.Record) (*repository.UpdateResult, error) {
	repo, err := s.repoFor(slug)
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetByID(ctx, id); err != nil {
		return nil, s.notFound(err, slug, id)
	}
	result, err := repo.UpdatePartial(ctx, id, payload)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"entity": slug, "id": id, "rows": result.RowsAffected}).Debug("record updated")
	s.publish(ctx, events.NewEvent(events.RecordUpdated, slug, id, payload))
	return result, nil
}

func (s *dynamicServiceImpl) Delete(ctx context.Context, slug string, id int64) (*repository.DeleteResult, error) {
	repo, err := s.repoFor(slug)
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetByID(ctx, id); err != nil {
		return nil, s.notFound(err, slug, id)
	}
	result, err := repo.DeleteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"entity": slug, "id": id, "rows": result.RowsAffected}).Debug("record deleted")
	s.publish(ctx, events.NewEvent(events.RecordDeleted, slug, id, nil))
	return result, nil
}

// notFound translates a missing row into ErrRecordNotFound and passes any
// other error through.
func (s *dynamicServiceImpl) notFound(err error, slug string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %d", ErrRecordNotFound, slug, id)
	}
	return err
}

func (s *dynamicServiceImpl) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithFields(logrus.Fields{
			"entity": event.Entity,
			"id":     event.RecordID,
			"event":  event.Type,
		}).WithError(err).Warn("publish change event failed")
	}
}
