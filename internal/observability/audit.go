package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/harun/jobats/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit categories.
const (
	AuditSecurity = "security"
	AuditCancel   = "cancel"
	AuditConfig   = "config"
)

// AuditEvent is one line of the audit log. Request, tab and client ids are
// filled from the context when the caller leaves them empty.
type AuditEvent struct {
	Kind      string
	Action    string // e.g. "tab.closed", "ws_auth"
	Actor     string // client id, tab id or subsystem
	Status    string // "success", "denied"
	Metadata  map[string]interface{}
	Timestamp time.Time
}

// AuditLogger appends audit events as JSON lines.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

func newAuditLogger(w io.Writer, closer io.Closer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w),
		closer: closer,
	}
}

// GetAuditLogger returns the process audit logger. Until InitAuditLogger
// succeeds it writes to stderr.
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = newAuditLogger(os.Stderr, nil)
	}
	return auditInst
}

// InitAuditLogger redirects the audit log to path, closing any previous file.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	auditMu.Lock()
	prev := auditInst
	auditInst = newAuditLogger(file, file)
	auditMu.Unlock()

	if prev != nil {
		return prev.Close()
	}
	return nil
}

// Record writes event and mirrors it onto the active span, if any.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	traceID := tracing.GetTraceID(ctx)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+event.Action, trace.WithAttributes(
			attribute.String("audit.kind", event.Kind),
			attribute.String("audit.status", event.Status),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("kind", event.Kind).
		Str("action", event.Action).
		Str("actor", event.Actor).
		Str("status", event.Status)
	for key, value := range map[string]string{
		"trace_id":   traceID,
		"request_id": tracing.GetRequestID(ctx),
		"tab_id":     tracing.GetTabID(ctx),
		"client_id":  tracing.GetClientID(ctx),
	} {
		if value != "" {
			entry = entry.Str(key, value)
		}
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close releases the audit file. Later events go to stderr.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	a.logger = zerolog.New(os.Stderr)
	return err
}

// RecordSecurityAudit records a gateway authentication decision.
func RecordSecurityAudit(ctx context.Context, action, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     AuditSecurity,
		Action:   action,
		Actor:    actor,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordCancelAudit records a tab close or an explicit request cancellation.
func RecordCancelAudit(ctx context.Context, action, tabID string, cancelled int) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     AuditCancel,
		Action:   action,
		Actor:    tabID,
		Status:   "success",
		Metadata: map[string]interface{}{"cancelled": cancelled},
	})
}

// RecordConfigAudit records a configuration change.
func RecordConfigAudit(ctx context.Context, action, actor string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     AuditConfig,
		Action:   action,
		Actor:    actor,
		Status:   "success",
		Metadata: metadata,
	})
}
