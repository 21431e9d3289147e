// Package audit emits structured security and operational audit records,
// the Go counterpart of the original core's AuditLogger.
package audit

import (
	"sync"

	"go.uber.org/zap"
)

// EventType enumerates the audited event categories, mirroring
// pinnacle::utils::AuditEventType.
type EventType string

const (
	AuthenticationSuccess EventType = "authentication_success"
	AuthenticationFailure EventType = "authentication_failure"
	CredentialAccess      EventType = "credential_access"
	CredentialModification EventType = "credential_modification"
	ConfigAccess          EventType = "config_access"
	ConfigModification    EventType = "config_modification"
	NetworkConnection     EventType = "network_connection"
	NetworkFailure        EventType = "network_failure"
	OrderSubmission       EventType = "order_submission"
	OrderModification     EventType = "order_modification"
	OrderCancellation     EventType = "order_cancellation"
	DataAccess            EventType = "data_access"
	PrivilegeEscalation   EventType = "privilege_escalation"
	SuspiciousActivity    EventType = "suspicious_activity"
	SystemStart           EventType = "system_start"
	SystemStop            EventType = "system_stop"
	ErrorCondition        EventType = "error_condition"
)

// Event is a single audit record. Fields match §6 of the external
// interface contract: timestamp, event_type, description, success plus
// optional user/session/source/target/additional_data.
type Event struct {
	Type            EventType
	Description     string
	Success         bool
	UserID          string
	SessionID       string
	Source          string
	Target          string
	AdditionalData  string
}

// Logger emits audit events as structured JSON lines via zap. It is safe
// for concurrent use.
type Logger struct {
	log     *zap.Logger
	mu      sync.RWMutex
	enabled bool
	userID  string
	sessID  string
}

// NewLogger wraps an existing zap logger tagged with the "audit" component,
// deriving a scoped logger via Named rather than constructing a second
// logging stack.
func NewLogger(base *zap.Logger) *Logger {
	return &Logger{
		log:     base.Named("audit"),
		enabled: true,
	}
}

func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

func (l *Logger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// SetCurrentSession records the acting user/session so future LogEvent
// calls that don't set them explicitly still carry attribution.
func (l *Logger) SetCurrentSession(userID, sessionID string) {
	l.mu.Lock()
	l.userID, l.sessID = userID, sessionID
	l.mu.Unlock()
}

func (l *Logger) LogEvent(e Event) {
	l.mu.RLock()
	enabled := l.enabled
	userID, sessID := l.userID, l.sessID
	l.mu.RUnlock()
	if !enabled {
		return
	}
	if e.UserID == "" {
		e.UserID = userID
	}
	if e.SessionID == "" {
		e.SessionID = sessID
	}

	fields := []zap.Field{
		zap.String("event_type", string(e.Type)),
		zap.String("description", e.Description),
		zap.Bool("success", e.Success),
	}
	if e.UserID != "" {
		fields = append(fields, zap.String("user_id", e.UserID))
	}
	if e.SessionID != "" {
		fields = append(fields, zap.String("session_id", e.SessionID))
	}
	if e.Source != "" {
		fields = append(fields, zap.String("source", e.Source))
	}
	if e.Target != "" {
		fields = append(fields, zap.String("target", e.Target))
	}
	if e.AdditionalData != "" {
		fields = append(fields, zap.String("additional_data", e.AdditionalData))
	}

	if e.Success {
		l.log.Info("audit", fields...)
	} else {
		l.log.Warn("audit", fields...)
	}
}

func (l *Logger) LogSystemEvent(description string, success bool) {
	et := SystemStart
	if !success {
		et = ErrorCondition
	}
	l.LogEvent(Event{Type: et, Description: description, Success: success})
}

func (l *Logger) LogOrderActivity(userID, orderID, action, symbol string, success bool) {
	et := OrderSubmission
	switch action {
	case "modify":
		et = OrderModification
	case "cancel":
		et = OrderCancellation
	}
	l.LogEvent(Event{
		Type:        et,
		Description: action + " order " + orderID + " on " + symbol,
		Success:     success,
		UserID:      userID,
		Target:      symbol,
	})
}

func (l *Logger) LogSuspiciousActivity(description, source, severity string) {
	l.LogEvent(Event{
		Type:           SuspiciousActivity,
		Description:    description,
		Success:        false,
		Source:         source,
		AdditionalData: severity,
	})
}
