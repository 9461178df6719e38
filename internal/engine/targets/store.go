// Package targets defines the persistence contract for forwarding targets.
package targets

import (
	"context"

	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

// Store persists Targets keyed by owner. Every method takes an ownerID; an
// empty ownerID means the call is not scoped to an owner.
//
// Get and Update return a nil Target, and Delete returns false, when no
// target with that id is visible to ownerID.
type Store interface {
	ListActive(ctx context.Context, ownerID string) ([]*models.Target, error)
	List(ctx context.Context, ownerID string) ([]*models.Target, error)
	Get(ctx context.Context, id, ownerID string) (*models.Target, error)
	Create(ctx context.Context, fields models.TargetFields, ownerID string) (*models.Target, error)
	Update(ctx context.Context, id string, fields models.TargetFields, ownerID string) (*models.Target, error)
	Delete(ctx context.Context, id, ownerID string) (bool, error)
}
