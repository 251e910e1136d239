package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgProducts = `SELECT id::text, price_ht::float8, stock::int8, ean13, sku FROM products WHERE id::text = ANY($1)`
	pgTiers    = `SELECT product_id::text, tier_id::text, qty_min::int8, price_ht::float8 FROM product_price_tiers WHERE product_id::text = ANY($1) ORDER BY product_id, qty_min`
	pgTenant   = `SELECT id::text, file_path FROM tenant_fonts WHERE tenant_id::text = $1`
	pgGlobal   = `SELECT family_key, file_path FROM global_fonts`
)

// Postgres loads snapshots from a PostgreSQL catalog.
type Postgres struct {
	Pool *pgxpool.Pool
}

// OpenPostgres connects a pool and checks it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = connMaxLifetime
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

func (p *Postgres) Load(ctx context.Context, q Query) (*RenderContext, error) {
	rc := newContext()
	rc.AgentMode = q.AgentMode
	if len(q.ProductIDs) > 0 {
		if err := p.query(ctx, pgProducts, func(r rows) error { return scanProducts(rc, r) }, q.ProductIDs); err != nil {
			return nil, err
		}
		if err := p.query(ctx, pgTiers, func(r rows) error { return scanTiers(rc, r) }, q.ProductIDs); err != nil {
			return nil, err
		}
	}
	if q.TenantID != "" {
		if err := p.query(ctx, pgTenant, func(r rows) error { return scanFonts(rc.TenantFonts, r) }, q.TenantID); err != nil {
			return nil, err
		}
	}
	if err := p.query(ctx, pgGlobal, func(r rows) error { return scanFonts(rc.GlobalFonts, r) }); err != nil {
		return nil, err
	}
	return rc, nil
}

func (p *Postgres) query(ctx context.Context, sql string, scan func(rows) error, args ...any) error {
	r, err := p.Pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("catalog query: %w", err)
	}
	defer r.Close()
	return scan(r)
}
