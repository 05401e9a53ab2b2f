package audit

import "time"

// Event is an immutable, append-only audit record.
//
// Events are never updated or deleted. TenantID is required. Actor and IP
// capture are best-effort; audit failures never block a call or an admin
// write.
type Event struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	Type     EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	// Resource names the configuration entity touched (forwarding_rule,
	// ivr_menu, hunt_group, ...) for config changes.
	Resource   string `json:"resource,omitempty" db:"resource"`
	ResourceID string `json:"resource_id,omitempty" db:"resource_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeConfigChange    EventType = "config_change"
	EventTypeRoutingFallback EventType = "routing_fallback"
	EventTypePark            EventType = "park"
)

// Actor identifies who caused an event.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
