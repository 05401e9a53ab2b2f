package tenant

import (
	"context"
	"errors"
	"fmt"
)

// Directory looks up the tenant that owns a dialed number.
// Implementations return ErrNotFound when no tenant owns it.
type Directory interface {
	TenantByNumber(ctx context.Context, number string) (Tenant, error)
}

// Resolver maps a dialed number to its tenant and default route.
// It has no side effects.
type Resolver struct {
	Directory Directory
}

func NewResolver(d Directory) *Resolver { return &Resolver{Directory: d} }

// Resolve returns ErrNotFound for unknown numbers and ErrInvalidRoute (wrapped)
// when the tenant's default route cannot be parsed. The tenant is still
// returned in the latter case so that callers can log it.
func (r *Resolver) Resolve(ctx context.Context, dialed string) (Tenant, Route, error) {
	if r.Directory == nil {
		return Tenant{}, Route{}, errors.New("tenant: directory not configured")
	}
	n := NormalizeNumber(dialed)
	if n == "" {
		return Tenant{}, Route{}, ErrNotFound
	}

	t, err := r.Directory.TenantByNumber(ctx, n)
	if err != nil {
		return Tenant{}, Route{}, err
	}
	if t.ID == "" {
		return Tenant{}, Route{}, ErrNotFound
	}

	route, err := ParseRoute(t.DefaultRoute)
	if err != nil {
		return t, Route{}, fmt.Errorf("tenant %s default route: %w", t.ID, err)
	}
	return t, route, nil
}
