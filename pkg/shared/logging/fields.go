// Package logging builds consistent structured log field sets on top of
// logrus, so every stage logs requestId/ownerId/cardId correlation keys the
// same way instead of assembling ad-hoc maps (spec.md §3, §6 observability
// surface).
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a chainable builder over a logrus-compatible field map.
type Fields map[string]interface{}

// NewFields returns an empty Fields builder.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

// OwnerID sets the owner correlation key (spec.md §3's ownerId).
func (f Fields) OwnerID(id string) Fields {
	if id != "" {
		f["owner_id"] = id
	}
	return f
}

// CardID sets the card correlation key (spec.md §3's cardId).
func (f Fields) CardID(id string) Fields {
	if id != "" {
		f["card_id"] = id
	}
	return f
}

// Stage sets the pipeline stage name a log line originates from.
func (f Fields) Stage(name string) Fields {
	f["stage"] = name
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus converts Fields to a logrus.Fields value.
func (f Fields) ToLogrus() logrus.Fields {
	return logrus.Fields(f)
}

// DatabaseFields builds the standard field set for Store Gateway / ledger
// operations.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields builds the standard field set for the Event Trigger's ingress.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// WorkflowFields builds the standard field set for a workflow execution.
func WorkflowFields(operation, workflowID string) Fields {
	return NewFields().Component("workflow").Operation(operation).Resource("workflow", workflowID)
}

// PipelineFields builds the standard correlation field set attached to every
// stage's log lines: requestId, ownerId, cardId, and the stage name.
func PipelineFields(stage, requestID, ownerID, cardID string) Fields {
	return NewFields().Component("pipeline").Stage(stage).RequestID(requestID).OwnerID(ownerID).CardID(cardID)
}

// AIFields builds the standard field set for LLM invocations.
func AIFields(operation, model string) Fields {
	return NewFields().Component("ai").Operation(operation).Custom("model", model)
}

// MetricsFields builds the standard field set for a metrics-recording log line.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// SecurityFields builds the standard field set for tenant-isolation checks
// and auth failures (spec.md §7 PermissionDenied).
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

// PerformanceFields builds the standard field set for stage latency logging
// (spec.md §6 observability surface: stageLatencyMs, terminalStatus).
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(duration).Custom("success", success)
}
