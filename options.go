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
	"github.com/sirupsen/logrus"
	"github.com/tomoncle/morph/events"
	"github.com/tomoncle/morph/schema"
	"github.com/uptrace/bun"
)

type Option func(*dynamicServiceImpl)

// WithDB sets the database. The global database.GetDB() is used otherwise.
func WithDB(db *bun.DB) Option {
	return func(s *dynamicServiceImpl) { s.db = db }
}

// WithRegistry sets the descriptor registry. schema.Default() is used
// otherwise.
func WithRegistry(reg schema.Registry) Option {
	return func(s *dynamicServiceImpl) { s.registry = reg }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *dynamicServiceImpl) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *dynamicServiceImpl) {
		if l != nil {
			s.logger = l
		}
	}
}
