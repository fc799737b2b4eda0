package audit

import (
	"context"
	"errors"
)

// MultiRecorder records every entry on each of its recorders
type MultiRecorder []Recorder

// Record writes entry to all recorders and joins their failures
func (m MultiRecorder) Record(ctx context.Context, entry Entry) error {
	entry = entry.complete()

	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopRecorder discards entries
type NopRecorder struct{}

// Record does nothing
func (NopRecorder) Record(context.Context, Entry) error { return nil }
