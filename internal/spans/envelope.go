// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package spans

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidEnvelope = errors.New("invalid span envelope")

// Envelope is the wire form of a span as published on the intake topic
// and as written by the JSON line encoder.
type Envelope struct {
	ProjectID   string          `json:"project_id"`
	Environment string          `json:"environment"`
	TraceID     string          `json:"trace_id"`
	SpanID      string          `json:"span_id"`
	ReceivedAt  int64           `json:"received_at_ms,omitempty"`
	Span        json.RawMessage `json:"span"`
}

// DecodeEnvelope parses and validates an envelope and turns it into a
// Record. A missing received_at_ms is stamped with the current time.
func DecodeEnvelope(data []byte) (Record, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env.Record()
}

// Record validates the envelope and converts it.
func (e Envelope) Record() (Record, error) {
	if err := e.Validate(); err != nil {
		return Record{}, err
	}
	rec := NewRecord(NewPartitionKey(e.ProjectID, e.Environment), e.TraceID, e.SpanID, e.Span)
	if e.ReceivedAt > 0 {
		rec.ReceivedAt = time.UnixMilli(e.ReceivedAt)
	}
	return rec, nil
}

// Validate checks that the fields the engine and sinks depend on are set.
func (e Envelope) Validate() error {
	switch {
	case e.ProjectID == "":
		return fmt.Errorf("%w: missing project_id", ErrInvalidEnvelope)
	case e.Environment == "":
		return fmt.Errorf("%w: missing environment", ErrInvalidEnvelope)
	case e.TraceID == "":
		return fmt.Errorf("%w: missing trace_id", ErrInvalidEnvelope)
	case e.SpanID == "":
		return fmt.Errorf("%w: missing span_id", ErrInvalidEnvelope)
	case len(e.Span) == 0:
		return fmt.Errorf("%w: missing span body", ErrInvalidEnvelope)
	}
	return nil
}

// ToEnvelope converts a record back to its wire form.
func (r Record) ToEnvelope() Envelope {
	return Envelope{
		ProjectID:   r.Key.Project,
		Environment: r.Key.Environment,
		TraceID:     r.TraceID,
		SpanID:      r.SpanID,
		ReceivedAt:  r.ReceivedAt.UnixMilli(),
		Span:        r.Payload,
	}
}

// MarshalEnvelope encodes the record as a single JSON envelope.
func (r Record) MarshalEnvelope() ([]byte, error) {
	return json.Marshal(r.ToEnvelope())
}
