package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"bizphone/pkg/logger"
)

// Repository is the persistence contract for audit events. It is
// append-only: there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Records are not exposed to
// tenant users by default.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent  = errors.New("audit: invalid event")
	ErrNotConfigured = errors.New("audit: repository not configured")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return ErrNotConfigured
	}
	if e.TenantID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogConfigChange records an administrative write to routing configuration.
// action is create, update or delete.
func (s *Service) LogConfigChange(ctx context.Context, tenantID string, actor Actor, resource, resourceID, action string, payload any) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypeConfigChange,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		Resource:    resource,
		ResourceID:  resourceID,
		Message:     resource + " " + action,
		Metadata:    encode(ctx, payload),
	})
}

// LogFallback records that a live call was sent to generic voicemail because
// routing failed.
func (s *Service) LogFallback(ctx context.Context, tenantID, callID, reason string) error {
	return s.Append(ctx, Event{
		TenantID: tenantID,
		Type:     EventTypeRoutingFallback,
		CallID:   callID,
		Message:  reason,
	})
}

// LogPark records a park or retrieve.
func (s *Service) LogPark(ctx context.Context, tenantID string, actor Actor, callID, action string, slot int) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypePark,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     action,
		Metadata:    encode(ctx, map[string]int{"slot": slot}),
	})
}

func encode(ctx context.Context, v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		logger.From(ctx).Warn("audit metadata not encodable", "err", err)
		return ""
	}
	return string(b)
}
