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

package sink

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"

	"github.com/cardinalhq/spanrunner/internal/spans"
)

// Encoding selects the object format written by object store sinks.
type Encoding string

const (
	EncodingJSONL   Encoding = "jsonl.gz"
	EncodingParquet Encoding = "parquet"
)

func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(s)) {
	case "", EncodingJSONL, "jsonl":
		return EncodingJSONL, nil
	case EncodingParquet:
		return EncodingParquet, nil
	default:
		return "", fmt.Errorf("unsupported encoding: %s", s)
	}
}

// Ext is the object key extension, without a leading dot.
func (e Encoding) Ext() string {
	return string(e)
}

func (e Encoding) ContentType() string {
	if e == EncodingParquet {
		return "application/vnd.apache.parquet"
	}
	return "application/x-ndjson"
}

// spanRow is the parquet schema for one stored span.
type spanRow struct {
	BatchID      int64  `parquet:"batch_id"`
	ProjectID    string `parquet:"project_id,dict"`
	Environment  string `parquet:"environment,dict"`
	Fingerprint  int64  `parquet:"partition_fingerprint"`
	TraceID      string `parquet:"trace_id"`
	SpanID       string `parquet:"span_id"`
	ReceivedAtMs int64  `parquet:"received_at_ms"`
	Span         string `parquet:"span"`
}

// Encode renders a batch in the given encoding.
func Encode(enc Encoding, batchID int64, records []spans.Record) ([]byte, error) {
	switch enc {
	case EncodingJSONL:
		return encodeJSONL(records)
	case EncodingParquet:
		return encodeParquet(batchID, records)
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", enc)
	}
}

func encodeJSONL(records []spans.Record) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	for _, rec := range records {
		line, err := rec.MarshalEnvelope()
		if err != nil {
			return nil, fmt.Errorf("failed to encode span %s: %w", rec.SpanID, err)
		}
		if _, err := gz.Write(line); err != nil {
			return nil, err
		}
		if _, err := gz.Write([]byte{'\n'}); err != nil {
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeParquet(batchID int64, records []spans.Record) ([]byte, error) {
	rows := make([]spanRow, len(records))
	for i, rec := range records {
		rows[i] = spanRow{
			BatchID:      batchID,
			ProjectID:    rec.Key.Project,
			Environment:  rec.Key.Environment,
			Fingerprint:  rec.Key.Fingerprint(),
			TraceID:      rec.TraceID,
			SpanID:       rec.SpanID,
			ReceivedAtMs: rec.ReceivedAt.UnixMilli(),
			Span:         string(rec.Payload),
		}
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[spanRow](&buf, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
