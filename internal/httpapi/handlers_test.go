package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bizphone/internal/audit"
	"bizphone/internal/auth"
	"bizphone/internal/catalog"
	"bizphone/internal/config"
	"bizphone/internal/park"
	"bizphone/internal/presence"
	"bizphone/internal/rbac"
	"bizphone/internal/state"
	"bizphone/internal/tenant"

	"github.com/gin-gonic/gin"
)

type fixture struct {
	r      *gin.Engine
	audits *audit.MemoryRepo
	cat    *catalog.MemoryRepo
}

func newFixture(t *testing.T, role string) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return now }

	store := state.NewMemoryStore()
	tracker := presence.NewTracker(store)
	tracker.Now = clock
	pm := park.NewManager(store, 0)
	pm.Now = clock
	repo := audit.NewMemoryRepo()
	cat := catalog.NewMemoryRepo()

	h := Handlers{
		Catalog:  cat,
		Presence: tracker,
		Park:     pm,
		Audit:    audit.NewService(repo),
		Now:      clock,
	}

	r := gin.New()
	v1 := r.Group("/v1", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u1", "t1", role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	h.Register(v1)
	return fixture{r: r, audits: repo, cat: cat}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func TestForwardingRuleLifecycle(t *testing.T) {
	f := newFixture(t, rbac.RoleOwner)

	w := f.do(t, http.MethodPost, "/v1/forwarding-rules", map[string]any{
		"rule_type":    "always",
		"forward_to":   "+15559990000",
		"forward_type": "number",
		"priority":     1,
		"is_enabled":   true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID       string `json:"id"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.TenantID != "t1" {
		t.Fatalf("expected id and tenant scope, got %+v", created)
	}

	w = f.do(t, http.MethodGet, "/v1/forwarding-rules/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = f.do(t, http.MethodDelete, "/v1/forwarding-rules/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/v1/forwarding-rules/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}

	events := f.audits.ByType(audit.EventTypeConfigChange)
	if len(events) != 2 {
		t.Fatalf("expected create and delete audited, got %d", len(events))
	}
	if events[0].ActorUserID != "u1" || events[0].Resource != resourceRule {
		t.Fatalf("unexpected audit event %+v", events[0])
	}
}

func TestInvalidRuleIsBadRequest(t *testing.T) {
	f := newFixture(t, rbac.RoleOwner)
	w := f.do(t, http.MethodPost, "/v1/forwarding-rules", map[string]any{
		"rule_type":    "always",
		"forward_to":   "not a number",
		"forward_type": "number",
		"is_enabled":   true,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if n := len(f.audits.Events()); n != 0 {
		t.Fatalf("rejected write must not be audited, got %d", n)
	}
}

func TestGroupExtensionConflict(t *testing.T) {
	f := newFixture(t, rbac.RoleAdmin)

	hunt := map[string]any{
		"name":         "Sales",
		"extension":    "500",
		"members":      []map[string]any{{"extension": "201"}},
		"distribution": "linear",
	}
	if w := f.do(t, http.MethodPost, "/v1/hunt-groups", hunt); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	ring := map[string]any{
		"name":      "Support",
		"extension": "500",
		"members":   []map[string]any{{"extension": "301"}},
		"strategy":  "simultaneous",
	}
	if w := f.do(t, http.MethodPost, "/v1/ring-groups", ring); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	q := map[string]any{
		"name":          "Billing",
		"extension":     "500",
		"ring_strategy": "linear",
		"agents":        []map[string]any{{"extension_id": "401"}},
	}
	if w := f.do(t, http.MethodPost, "/v1/queues", q); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBusinessHoursRoundTrip(t *testing.T) {
	f := newFixture(t, rbac.RoleOwner)

	if w := f.do(t, http.MethodGet, "/v1/business-hours", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before configuration, got %d", w.Code)
	}

	cfg := map[string]any{
		"time_zone": "America/New_York",
		"days": map[string]any{
			"mon": map[string]any{"enabled": true, "open_time": "09:00", "close_time": "17:00"},
		},
	}
	if w := f.do(t, http.MethodPut, "/v1/business-hours", cfg); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodGet, "/v1/business-hours", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	cfg["time_zone"] = "Mars/Olympus"
	if w := f.do(t, http.MethodPut, "/v1/business-hours", cfg); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad zone, got %d", w.Code)
	}
}

func TestRoleGates(t *testing.T) {
	f := newFixture(t, rbac.RoleAnalyst)

	if w := f.do(t, http.MethodGet, "/v1/forwarding-rules", nil); w.Code != http.StatusOK {
		t.Fatalf("analyst should read, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/forwarding-rules", map[string]any{}); w.Code != http.StatusForbidden {
		t.Fatalf("analyst must not write, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/parked-calls", map[string]any{"call_id": "CA1"}); w.Code != http.StatusForbidden {
		t.Fatalf("analyst must not park, got %d", w.Code)
	}
}

func TestPresenceUpdate(t *testing.T) {
	f := newFixture(t, rbac.RoleAgent)

	w := f.do(t, http.MethodPut, "/v1/presence/201", map[string]any{"status": "available"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/v1/presence/available", nil)
	var got struct {
		AgentIDs []string `json:"agent_ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.AgentIDs) != 1 || got.AgentIDs[0] != "201" {
		t.Fatalf("expected 201 available, got %+v", got.AgentIDs)
	}

	w = f.do(t, http.MethodPut, "/v1/presence/201", map[string]any{"status": "sleeping"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestParkAndRetrieve(t *testing.T) {
	f := newFixture(t, rbac.RoleAgent)

	w := f.do(t, http.MethodPost, "/v1/parked-calls", map[string]any{"call_id": "CA1", "slot": 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/v1/parked-calls", map[string]any{"call_id": "CA2", "slot": 3})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for occupied slot, got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/v1/parked-calls", map[string]any{"call_id": "CA2", "slot": 11})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for slot out of range, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/v1/parked-calls/3/retrieve", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/v1/parked-calls/3/retrieve", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for empty slot, got %d", w.Code)
	}

	if n := len(f.audits.ByType(audit.EventTypePark)); n != 2 {
		t.Fatalf("expected park and retrieve audited, got %d", n)
	}
}

func TestRefreshIssuesNewPair(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		JWTIssuer:       "bizphone",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	pair, err := m.IssuePair(time.Now(), "u1", "t1", rbac.RoleOwner)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	h := Handlers{Auth: m, DevLogin: true}
	r := gin.New()
	h.RegisterAuth(r.Group("/v1/auth"))

	body, _ := json.Marshal(map[string]string{"refresh_token": pair.RefreshToken, "role": rbac.RoleOwner})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body, _ = json.Marshal(map[string]string{"refresh_token": pair.AccessToken, "role": rbac.RoleOwner})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", bytes.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("access token must not refresh, got %d", w.Code)
	}

	prod := gin.New()
	Handlers{Auth: m}.RegisterAuth(prod.Group("/v1/auth"))
	w = httptest.NewRecorder()
	prod.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("login must be disabled by default, got %d", w.Code)
	}
}

func TestTenantUpdate(t *testing.T) {
	f := newFixture(t, rbac.RoleOwner)
	if _, err := f.cat.PutTenant(context.Background(), tenant.Tenant{
		ID: "t2", Name: "Other", Numbers: []string{"+15550100002"}, DefaultRoute: "voicemail",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := f.do(t, http.MethodPut, "/v1/tenant", map[string]any{
		"name":          "Acme",
		"numbers":       []string{"+1 555 010 0001"},
		"default_route": "ivr",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got, err := f.cat.TenantByNumber(context.Background(), "+15550100001")
	if err != nil || got.ID != "t1" {
		t.Fatalf("expected number owned by t1, got %+v err=%v", got, err)
	}

	w = f.do(t, http.MethodPut, "/v1/tenant", map[string]any{
		"name":          "Acme",
		"numbers":       []string{"+15550100002"},
		"default_route": "ivr",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a number owned elsewhere, got %d", w.Code)
	}

	w = f.do(t, http.MethodPut, "/v1/tenant", map[string]any{"name": "Acme", "default_route": "elsewhere"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad default route, got %d", w.Code)
	}
}
