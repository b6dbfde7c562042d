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
	"fmt"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
)

// Resource attributes that place OTLP spans in a partition.
const (
	ProjectAttribute           = "project.id"
	EnvironmentAttribute       = "deployment.environment.name"
	LegacyEnvironmentAttribute = "deployment.environment"
	serviceNameAttribute       = "service.name"
)

// otlpSpan is the JSON payload stored for a span received as OTLP.
type otlpSpan struct {
	Name               string         `json:"name"`
	Kind               string         `json:"kind"`
	ParentSpanID       string         `json:"parent_span_id,omitempty"`
	ServiceName        string         `json:"service_name,omitempty"`
	ScopeName          string         `json:"scope_name,omitempty"`
	StartTimeUnixNano  uint64         `json:"start_time_unix_nano"`
	EndTimeUnixNano    uint64         `json:"end_time_unix_nano"`
	StatusCode         string         `json:"status_code"`
	StatusMessage      string         `json:"status_message,omitempty"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	ResourceAttributes map[string]any `json:"resource_attributes,omitempty"`
}

// DecodeOTLP splits an OTLP protobuf trace export into records. The
// partition comes from resource attributes, falling back to fallback's
// fields when they are absent. Spans that still lack a project,
// environment or ids are skipped and counted.
func DecodeOTLP(data []byte, fallback PartitionKey) (records []Record, skipped int, err error) {
	var u ptrace.ProtoUnmarshaler
	td, err := u.UnmarshalTraces(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	records = make([]Record, 0, td.SpanCount())
	rss := td.ResourceSpans()
	for i := 0; i < rss.Len(); i++ {
		rs := rss.At(i)
		resAttrs := rs.Resource().Attributes()
		key := partitionFromResource(resAttrs, fallback)
		resRaw := resAttrs.AsRaw()
		serviceName := attrString(resAttrs, serviceNameAttribute)

		sss := rs.ScopeSpans()
		for j := 0; j < sss.Len(); j++ {
			ss := sss.At(j)
			spans := ss.Spans()
			for k := 0; k < spans.Len(); k++ {
				span := spans.At(k)
				if key.Project == "" || key.Environment == "" || span.TraceID().IsEmpty() || span.SpanID().IsEmpty() {
					skipped++
					continue
				}

				doc := otlpSpan{
					Name:               span.Name(),
					Kind:               span.Kind().String(),
					ServiceName:        serviceName,
					ScopeName:          ss.Scope().Name(),
					StartTimeUnixNano:  uint64(span.StartTimestamp()),
					EndTimeUnixNano:    uint64(span.EndTimestamp()),
					StatusCode:         span.Status().Code().String(),
					StatusMessage:      span.Status().Message(),
					Attributes:         span.Attributes().AsRaw(),
					ResourceAttributes: resRaw,
				}
				if !span.ParentSpanID().IsEmpty() {
					doc.ParentSpanID = span.ParentSpanID().String()
				}
				payload, err := json.Marshal(doc)
				if err != nil {
					skipped++
					continue
				}
				records = append(records, NewRecord(key, span.TraceID().String(), span.SpanID().String(), payload))
			}
		}
	}
	return records, skipped, nil
}

func partitionFromResource(attrs pcommon.Map, fallback PartitionKey) PartitionKey {
	key := fallback
	if p := attrString(attrs, ProjectAttribute); p != "" {
		key.Project = p
	}
	if e := attrString(attrs, EnvironmentAttribute); e != "" {
		key.Environment = e
	} else if e := attrString(attrs, LegacyEnvironmentAttribute); e != "" {
		key.Environment = e
	}
	return key
}

func attrString(attrs pcommon.Map, name string) string {
	if v, ok := attrs.Get(name); ok {
		return v.AsString()
	}
	return ""
}
