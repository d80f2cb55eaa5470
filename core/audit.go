package core

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditEvent is one structured entry in the debug log. Data may contain
// raw tokens and claims for forensics; the log is access-controlled by
// the host and capped, never a long-term record.
type AuditEvent struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Time       time.Time      `json:"time"`
	ActorID    string         `json:"actor_id,omitempty"`
	RequestURI string         `json:"uri,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// MaxAuditEntries caps the persisted ring buffer; oldest entries are
// evicted first.
const MaxAuditEntries = 50

// Anchored on the parameter delimiter so promocode=, csrftoken= and the
// like survive redaction.
var sensitiveQuery = regexp.MustCompile(`(?i)[?&](code|token)=[^&]*`)

// AuditLog persists a capped list of AuditEvents in the settings store.
// Appends are read-modify-write on the whole list; under truly concurrent
// requests the last writer wins, which is acceptable for a debug log.
type AuditLog struct {
	settings *Settings
	max      int
	logger   *zap.Logger
}

func NewAuditLog(settings *Settings, logger *zap.Logger) *AuditLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AuditLog{settings: settings, max: MaxAuditEntries, logger: logger}
	// Toggling the debug-log setting discards whatever was collected so
	// far, matching the host's expectation of a fresh capture window.
	settings.Subscribe(SettingDebugLog, func(old, new string) {
		if err := a.Clear(context.Background()); err != nil {
			a.logger.Warn("audit log clear failed", zap.Error(err))
		}
	})
	return a
}

// Append records one event when the debug log is enabled. Returns false
// when logging is disabled or the write failed.
func (a *AuditLog) Append(ctx context.Context, e AuditEvent) bool {
	if !a.settings.DebugLog(ctx) {
		return false
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	e.RequestURI = RedactURI(e.RequestURI)

	entries, err := a.Entries(ctx)
	if err != nil {
		a.logger.Warn("audit log load failed", zap.Error(err))
		entries = nil
	}
	entries = append(entries, e)
	if over := len(entries) - a.max; over > 0 {
		entries = entries[over:]
	}
	if err := a.save(ctx, entries); err != nil {
		a.logger.Warn("audit log save failed", zap.Error(err))
		return false
	}
	return true
}

// Entries returns the persisted events, oldest first.
func (a *AuditLog) Entries(ctx context.Context) ([]AuditEvent, error) {
	b, ok, err := a.settings.GetRaw(ctx, KeyAuditLog)
	if err != nil {
		return nil, err
	}
	if !ok || len(b) == 0 {
		return nil, nil
	}
	var entries []AuditEvent
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, &MalformedDataError{What: "audit log", Err: err}
	}
	return entries, nil
}

// Clear drops all persisted events.
func (a *AuditLog) Clear(ctx context.Context) error {
	return a.save(ctx, nil)
}

func (a *AuditLog) save(ctx context.Context, entries []AuditEvent) error {
	if entries == nil {
		entries = []AuditEvent{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return a.settings.SetRaw(ctx, KeyAuditLog, b)
}

// RedactURI blanks sensitive query parameter values (authorization codes,
// tokens) before a request path is persisted.
func RedactURI(uri string) string {
	if uri == "" {
		return ""
	}
	return sensitiveQuery.ReplaceAllStringFunc(uri, func(m string) string {
		for i := 0; i < len(m); i++ {
			if m[i] == '=' {
				return m[:i+1]
			}
		}
		return m
	})
}
