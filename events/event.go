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

package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/tomoncle/morph/types"
)

type EventType string

const (
	RecordCreated EventType = "created"
	RecordUpdated EventType = "updated"
	RecordDeleted EventType = "deleted"
)

// Event describes one committed change to a record. Payload is the
// submitted data for creates and updates and empty for deletes.
type Event struct {
	ID         uuid.UUID    `json:"id"`
	Type       EventType    `json:"type"`
	Entity     string       `json:"entity"`
	RecordID   int64        `json:"recordId"`
	Payload    types.Record `json:"payload,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

func NewEvent(typ EventType, entity string, recordID int64, payload types.Record) Event {
	return Event{
		ID:         uuid.New(),
		Type:       typ,
		Entity:     entity,
		RecordID:   recordID,
		Payload:    payload.Clone(),
		OccurredAt: time.Now().UTC(),
	}
}
