// Package audit records who created or restored a backup and what changed.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the backup service
const (
	ActionCreate  = "create"
	ActionRestore = "restore"
)

// Resources recorded by the backup service
const (
	ResourceBackupJob = "BackupJob"
	ResourceDatabase  = "Database"
)

// Entry is one audit trail record
type Entry struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Before     map[string]interface{} `json:"before,omitempty"`
	After      map[string]interface{} `json:"after,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Recorder persists audit entries
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// NewEntry creates an entry with a fresh id and the current time
func NewEntry(actor, action, resource string) Entry {
	return Entry{
		ID:        uuid.New().String(),
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		CreatedAt: time.Now().UTC(),
	}
}

// complete fills the id and timestamp of entries built by hand
func (e Entry) complete() Entry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}

// metadata returns the entry metadata with the actor folded in
func (e Entry) metadata() map[string]interface{} {
	if e.Actor == "" {
		return e.Metadata
	}
	out := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		out[k] = v
	}
	out["actor"] = e.Actor
	return out
}

type requestInfoKey struct{}

// RequestInfo carries the caller details an HTTP handler knows about
type RequestInfo struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// WithRequestInfo stores caller details in ctx
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the caller details stored in ctx, if any
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}

// FromContext copies caller details from ctx into e where e leaves them empty
func (e Entry) FromContext(ctx context.Context) Entry {
	info, ok := RequestInfoFromContext(ctx)
	if !ok {
		return e
	}
	if e.UserID == "" {
		e.UserID = info.UserID
	}
	if e.IPAddress == "" {
		e.IPAddress = info.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = info.UserAgent
	}
	return e
}
