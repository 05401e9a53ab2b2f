package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"bizphone/internal/distribution"
	"bizphone/internal/forwarding"
	"bizphone/internal/hours"
	"bizphone/internal/ivr"
	"bizphone/internal/queue"
	"bizphone/internal/tenant"
	"bizphone/pkg/utils"
)

//go:embed schema.sql
var schema string

const pgUniqueViolation = "23505"

// PostgresRepo stores the catalog in Postgres through database/sql with the
// pgx stdlib driver.
type PostgresRepo struct {
	db  *sql.DB
	Now func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, Now: time.Now}
}

// Migrate creates the catalog tables if they do not exist.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoc[T any](ctx context.Context, q queryer, what string, query string, args ...any) (T, error) {
	var (
		out T
		raw []byte
	)
	if err := q.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, notFound(what)
		}
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("catalog: decode %s: %w", what, err)
	}
	return out, nil
}

func listDocs[T any](ctx context.Context, q queryer, query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("catalog: decode: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// mapWriteErr turns unique violations into ErrConflict.
func mapWriteErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s (%s)", ErrConflict, what, pgErr.ConstraintName)
	}
	return err
}

func deleted(res sql.Result, err error, what string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(what)
	}
	return nil
}

// Tenants

func (r *PostgresRepo) TenantByNumber(ctx context.Context, number string) (tenant.Tenant, error) {
	const q = `
SELECT t.doc
FROM tenant_numbers n
JOIN tenants t ON t.id = n.tenant_id
WHERE n.number = $1
`
	t, err := getDoc[tenant.Tenant](ctx, r.db, "number "+number, q, tenant.NormalizeNumber(number))
	if errors.Is(err, ErrNotFound) {
		return t, fmt.Errorf("%w: %w", err, tenant.ErrNotFound)
	}
	return t, err
}

func (r *PostgresRepo) Tenant(ctx context.Context, id string) (tenant.Tenant, error) {
	t, err := getDoc[tenant.Tenant](ctx, r.db, "tenant "+id, `SELECT doc FROM tenants WHERE id = $1`, id)
	if errors.Is(err, ErrNotFound) {
		return t, fmt.Errorf("%w: %w", err, tenant.ErrNotFound)
	}
	return t, err
}

func (r *PostgresRepo) PutTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	t, err := prepareTenant(t)
	if err != nil {
		return t, err
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return t, err
	}
	err = utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const upsert = `
INSERT INTO tenants (id, name, default_route, doc, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, default_route = EXCLUDED.default_route,
    doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
`
		if _, err := tx.ExecContext(ctx, upsert, t.ID, t.Name, t.DefaultRoute, doc, r.Now().UTC()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_numbers WHERE tenant_id = $1`, t.ID); err != nil {
			return err
		}
		for _, n := range t.Numbers {
			if _, err := tx.ExecContext(ctx, `INSERT INTO tenant_numbers (number, tenant_id) VALUES ($1,$2)`, n, t.ID); err != nil {
				return mapWriteErr(err, "number "+n)
			}
		}
		return nil
	})
	return t, err
}

// Business hours

func (r *PostgresRepo) BusinessHours(ctx context.Context, tenantID string) (*hours.Config, error) {
	cfg, err := getDoc[hours.Config](ctx, r.db, "hours", `SELECT doc FROM business_hours WHERE tenant_id = $1`, tenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *PostgresRepo) PutBusinessHours(ctx context.Context, cfg hours.Config) error {
	if err := prepareHours(cfg); err != nil {
		return err
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO business_hours (tenant_id, doc, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (tenant_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
`
	_, err = r.db.ExecContext(ctx, q, cfg.TenantID, doc, r.Now().UTC())
	return err
}

// Forwarding rules

func (r *PostgresRepo) ForwardingRules(ctx context.Context, tenantID string) ([]forwarding.Rule, error) {
	const q = `
SELECT doc FROM forwarding_rules
WHERE tenant_id = $1
ORDER BY priority, created_at, id
`
	rules, err := listDocs[forwarding.Rule](ctx, r.db, q, tenantID)
	if err != nil {
		return nil, err
	}
	// Timestamps round-trip through JSON; reapply the canonical order.
	return forwarding.Ordered(rules), nil
}

func (r *PostgresRepo) ForwardingRule(ctx context.Context, tenantID, id string) (forwarding.Rule, error) {
	return getDoc[forwarding.Rule](ctx, r.db, "rule "+id,
		`SELECT doc FROM forwarding_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

func (r *PostgresRepo) PutForwardingRule(ctx context.Context, rule forwarding.Rule) (forwarding.Rule, error) {
	rule, err := prepareRule(rule, r.Now())
	if err != nil {
		return rule, err
	}
	doc, err := json.Marshal(rule)
	if err != nil {
		return rule, err
	}
	const q = `
INSERT INTO forwarding_rules (tenant_id, id, priority, created_at, doc)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id, id) DO UPDATE
SET priority = EXCLUDED.priority, created_at = EXCLUDED.created_at, doc = EXCLUDED.doc
`
	_, err = r.db.ExecContext(ctx, q, rule.TenantID, rule.ID, rule.Priority, rule.CreatedAt, doc)
	return rule, err
}

func (r *PostgresRepo) DeleteForwardingRule(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM forwarding_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return deleted(res, err, "rule "+id)
}

// IVR menus

func (r *PostgresRepo) Menu(ctx context.Context, tenantID, menuID string) (ivr.Menu, error) {
	m, err := getDoc[ivr.Menu](ctx, r.db, "menu "+menuID,
		`SELECT doc FROM ivr_menus WHERE tenant_id = $1 AND id = $2`, tenantID, menuID)
	if errors.Is(err, ErrNotFound) {
		return m, fmt.Errorf("%w: %w", err, ivr.ErrNotFound)
	}
	return m, err
}

func (r *PostgresRepo) DefaultMenu(ctx context.Context, tenantID string) (ivr.Menu, error) {
	m, err := getDoc[ivr.Menu](ctx, r.db, "default menu",
		`SELECT doc FROM ivr_menus WHERE tenant_id = $1 AND is_default`, tenantID)
	if errors.Is(err, ErrNotFound) {
		return m, fmt.Errorf("%w: %w", err, ivr.ErrNotFound)
	}
	return m, err
}

func (r *PostgresRepo) Menus(ctx context.Context, tenantID string) ([]ivr.Menu, error) {
	return listDocs[ivr.Menu](ctx, r.db, `SELECT doc FROM ivr_menus WHERE tenant_id = $1 ORDER BY name, id`, tenantID)
}

// PutMenu stores m. Marking a menu default clears the flag on the others in
// the same transaction; the partial unique index backs this up.
func (r *PostgresRepo) PutMenu(ctx context.Context, m ivr.Menu) (ivr.Menu, error) {
	m, err := prepareMenu(m)
	if err != nil {
		return m, err
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return m, err
	}
	err = utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		err := checkSubmenus(m, func(id string) (bool, error) {
			var ok bool
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM ivr_menus WHERE tenant_id = $1 AND id = $2)`, m.TenantID, id).Scan(&ok)
			return ok, err
		})
		if err != nil {
			return err
		}
		if m.IsDefault {
			const clear = `
UPDATE ivr_menus
SET is_default = false, doc = jsonb_set(doc, '{is_default}', 'false')
WHERE tenant_id = $1 AND id <> $2 AND is_default
`
			if _, err := tx.ExecContext(ctx, clear, m.TenantID, m.ID); err != nil {
				return err
			}
		}
		const upsert = `
INSERT INTO ivr_menus (tenant_id, id, name, is_default, doc)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id, id) DO UPDATE
SET name = EXCLUDED.name, is_default = EXCLUDED.is_default, doc = EXCLUDED.doc
`
		_, err = tx.ExecContext(ctx, upsert, m.TenantID, m.ID, m.Name, m.IsDefault, doc)
		return mapWriteErr(err, "default menu")
	})
	return m, err
}

func (r *PostgresRepo) DeleteMenu(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ivr_menus WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return deleted(res, err, "menu "+id)
}

// Groups and queues share call_groups. The rotation cursor lives in its own
// column so cursor updates never rewrite the configuration document.

const groupSelect = `SELECT doc, last_selected_index FROM call_groups`

func scanGroup[T any](row interface{ Scan(...any) error }, setCursor func(*T, int)) (T, error) {
	var (
		out    T
		raw    []byte
		cursor int
	)
	if err := row.Scan(&raw, &cursor); err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("catalog: decode group: %w", err)
	}
	if setCursor != nil {
		setCursor(&out, cursor)
	}
	return out, nil
}

func getGroup[T any](ctx context.Context, db *sql.DB, what string, setCursor func(*T, int), where string, args ...any) (T, error) {
	g, err := scanGroup(db.QueryRowContext(ctx, groupSelect+" "+where, args...), setCursor)
	if errors.Is(err, sql.ErrNoRows) {
		return g, notFound(what)
	}
	return g, err
}

func listGroups[T any](ctx context.Context, db *sql.DB, setCursor func(*T, int), kind, tenantID string) ([]T, error) {
	rows, err := db.QueryContext(ctx, groupSelect+` WHERE tenant_id = $1 AND kind = $2 ORDER BY extension, id`, tenantID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		g, err := scanGroup(rows, setCursor)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) putGroup(ctx context.Context, tenantID, id, kind, ext string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_groups (tenant_id, id, kind, extension, doc)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id, id) DO UPDATE
SET extension = EXCLUDED.extension, doc = EXCLUDED.doc
WHERE call_groups.kind = EXCLUDED.kind
`
	res, err := r.db.ExecContext(ctx, q, tenantID, id, kind, ext, doc)
	if err != nil {
		return mapWriteErr(err, "extension "+ext)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %s belongs to another group kind", ErrConflict, id)
	}
	return nil
}

func (r *PostgresRepo) deleteGroup(ctx context.Context, tenantID, id, kind string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM call_groups WHERE tenant_id = $1 AND id = $2 AND kind = $3`, tenantID, id, kind)
	return deleted(res, err, kind+" "+id)
}

func (r *PostgresRepo) setCursor(ctx context.Context, tenantID, id, kind string, index int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_groups SET last_selected_index = $4 WHERE tenant_id = $1 AND id = $2 AND kind = $3`,
		tenantID, id, kind, index)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(kind + " " + id)
	}
	return nil
}

func huntCursor(g *distribution.HuntGroup, i int) { g.LastSelectedIndex = i }
func ringCursor(g *distribution.RingGroup, i int) { g.LastSelectedIndex = i }

func (r *PostgresRepo) HuntGroups(ctx context.Context, tenantID string) ([]distribution.HuntGroup, error) {
	return listGroups(ctx, r.db, huntCursor, kindHunt, tenantID)
}

func (r *PostgresRepo) HuntGroup(ctx context.Context, tenantID, id string) (distribution.HuntGroup, error) {
	return getGroup(ctx, r.db, "hunt group "+id, huntCursor,
		`WHERE tenant_id = $1 AND id = $2 AND kind = 'hunt'`, tenantID, id)
}

func (r *PostgresRepo) HuntGroupByExtension(ctx context.Context, tenantID, ext string) (distribution.HuntGroup, error) {
	return getGroup(ctx, r.db, "hunt group extension "+ext, huntCursor,
		`WHERE tenant_id = $1 AND extension = $2 AND kind = 'hunt'`, tenantID, ext)
}

func (r *PostgresRepo) PutHuntGroup(ctx context.Context, g distribution.HuntGroup) (distribution.HuntGroup, error) {
	existing, err := r.HuntGroup(ctx, g.TenantID, g.ID)
	isNew := errors.Is(err, ErrNotFound) || g.ID == ""
	if err != nil && !isNew {
		return g, err
	}
	if g, err = prepareHunt(g, isNew); err != nil {
		return g, err
	}
	if !isNew {
		g.LastSelectedIndex = existing.LastSelectedIndex
	}
	return g, r.putGroup(ctx, g.TenantID, g.ID, kindHunt, g.Extension, g)
}

func (r *PostgresRepo) DeleteHuntGroup(ctx context.Context, tenantID, id string) error {
	return r.deleteGroup(ctx, tenantID, id, kindHunt)
}

func (r *PostgresRepo) SetHuntGroupCursor(ctx context.Context, tenantID, groupID string, index int) error {
	return r.setCursor(ctx, tenantID, groupID, kindHunt, index)
}

func (r *PostgresRepo) RingGroups(ctx context.Context, tenantID string) ([]distribution.RingGroup, error) {
	return listGroups(ctx, r.db, ringCursor, kindRing, tenantID)
}

func (r *PostgresRepo) RingGroup(ctx context.Context, tenantID, id string) (distribution.RingGroup, error) {
	return getGroup(ctx, r.db, "ring group "+id, ringCursor,
		`WHERE tenant_id = $1 AND id = $2 AND kind = 'ring'`, tenantID, id)
}

func (r *PostgresRepo) RingGroupByExtension(ctx context.Context, tenantID, ext string) (distribution.RingGroup, error) {
	return getGroup(ctx, r.db, "ring group extension "+ext, ringCursor,
		`WHERE tenant_id = $1 AND extension = $2 AND kind = 'ring'`, tenantID, ext)
}

func (r *PostgresRepo) PutRingGroup(ctx context.Context, g distribution.RingGroup) (distribution.RingGroup, error) {
	existing, err := r.RingGroup(ctx, g.TenantID, g.ID)
	isNew := errors.Is(err, ErrNotFound) || g.ID == ""
	if err != nil && !isNew {
		return g, err
	}
	if g, err = prepareRing(g, isNew); err != nil {
		return g, err
	}
	if !isNew {
		g.LastSelectedIndex = existing.LastSelectedIndex
	}
	return g, r.putGroup(ctx, g.TenantID, g.ID, kindRing, g.Extension, g)
}

func (r *PostgresRepo) DeleteRingGroup(ctx context.Context, tenantID, id string) error {
	return r.deleteGroup(ctx, tenantID, id, kindRing)
}

func (r *PostgresRepo) SetRingGroupCursor(ctx context.Context, tenantID, groupID string, index int) error {
	return r.setCursor(ctx, tenantID, groupID, kindRing, index)
}

func (r *PostgresRepo) Queues(ctx context.Context, tenantID string) ([]queue.CallQueue, error) {
	return listGroups[queue.CallQueue](ctx, r.db, nil, kindQueue, tenantID)
}

func (r *PostgresRepo) Queue(ctx context.Context, tenantID, ref string) (queue.CallQueue, error) {
	return getGroup[queue.CallQueue](ctx, r.db, "queue "+ref, nil,
		`WHERE tenant_id = $1 AND kind = 'queue' AND (id = $2 OR (extension <> '' AND extension = $2)) ORDER BY id = $2 DESC LIMIT 1`,
		tenantID, ref)
}

func (r *PostgresRepo) PutQueue(ctx context.Context, q queue.CallQueue) (queue.CallQueue, error) {
	q, err := prepareQueue(q)
	if err != nil {
		return q, err
	}
	return q, r.putGroup(ctx, q.TenantID, q.ID, kindQueue, q.Extension, q)
}

func (r *PostgresRepo) DeleteQueue(ctx context.Context, tenantID, id string) error {
	return r.deleteGroup(ctx, tenantID, id, kindQueue)
}

var _ Repository = (*PostgresRepo)(nil)
