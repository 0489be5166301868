package websocket

import (
	"context"
	"fmt"

	"fieldservice-server/models"
	"fieldservice-server/store"
)

// StoreLoader reads snapshots straight from the lifecycle store.
type StoreLoader struct {
	Reader store.Reader
}

// LoadSnapshot implements SnapshotLoader.
func (l StoreLoader) LoadSnapshot(ctx context.Context, kind models.EntityKind, id string) (models.Change, error) {
	switch kind {
	case models.KindBooking:
		b, err := l.Reader.GetBooking(ctx, id)
		if err != nil {
			return models.Change{}, err
		}
		return models.NewChange(kind, id, b.Version, b, b.UpdatedAt)
	case models.KindJob:
		j, err := l.Reader.GetJob(ctx, id)
		if err != nil {
			return models.Change{}, err
		}
		return models.NewChange(kind, id, j.Version, j, j.UpdatedAt)
	case models.KindTechnician:
		t, err := l.Reader.GetTechnician(ctx, id)
		if err != nil {
			return models.Change{}, err
		}
		return models.NewChange(kind, id, t.Version, t, t.UpdatedAt)
	}
	return models.Change{}, fmt.Errorf("unknown entity kind %q", kind)
}
