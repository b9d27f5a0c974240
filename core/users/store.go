package users

import "context"

// Store persists profiles.
type Store interface {
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, id string) (*Profile, error)
	// List returns profiles with the most recently created first.
	List(ctx context.Context, limit int64) ([]*Profile, error)
	Update(ctx context.Context, id string, u ProfileUpdate) (*Profile, error)
	Delete(ctx context.Context, id string) error
}
