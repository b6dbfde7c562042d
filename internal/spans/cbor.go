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
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// cborEnvelope mirrors Envelope with the span body carried as a byte
// string so it round-trips without re-encoding.
type cborEnvelope struct {
	ProjectID   string `cbor:"project_id"`
	Environment string `cbor:"environment"`
	TraceID     string `cbor:"trace_id"`
	SpanID      string `cbor:"span_id"`
	ReceivedAt  int64  `cbor:"received_at_ms,omitempty"`
	Span        []byte `cbor:"span"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{
		Sort:    cbor.SortNone,
		Time:    cbor.TimeUnixMicro,
		TimeTag: cbor.EncTagNone,
	}.EncMode()
	if err != nil {
		panic(fmt.Errorf("failed to create CBOR encoder: %w", err))
	}

	cborDec, err = cbor.DecOptions{
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any{}),
		UTF8:           cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("failed to create CBOR decoder: %w", err))
	}
}

// MarshalCBOR encodes the record as a CBOR envelope.
func (r Record) MarshalCBOR() ([]byte, error) {
	return cborEnc.Marshal(cborEnvelope{
		ProjectID:   r.Key.Project,
		Environment: r.Key.Environment,
		TraceID:     r.TraceID,
		SpanID:      r.SpanID,
		ReceivedAt:  r.ReceivedAt.UnixMilli(),
		Span:        r.Payload,
	})
}

// DecodeCBOREnvelope is DecodeEnvelope for CBOR encoded messages.
func DecodeCBOREnvelope(data []byte) (Record, error) {
	var ce cborEnvelope
	if err := cborDec.Unmarshal(data, &ce); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	env := Envelope{
		ProjectID:   ce.ProjectID,
		Environment: ce.Environment,
		TraceID:     ce.TraceID,
		SpanID:      ce.SpanID,
		ReceivedAt:  ce.ReceivedAt,
		Span:        ce.Span,
	}
	return env.Record()
}
