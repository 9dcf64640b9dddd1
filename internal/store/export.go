package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vasu-devs/Socratis/internal/model"
)

// ExportSessions builds the export document for every session in d,
// optionally filtered by status.
func ExportSessions(ctx context.Context, d Durable, status model.SessionStatus) (*model.SessionsExport, error) {
	sessions, err := d.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := &model.SessionsExport{
		ExportedAt: time.Now().UTC(),
		Status:     string(status),
		Count:      len(sessions),
		Sessions:   make([]model.SessionExport, 0, len(sessions)),
	}
	for _, sess := range sessions {
		out.Sessions = append(out.Sessions, model.ExportOf(sess))
	}
	return out, nil
}
