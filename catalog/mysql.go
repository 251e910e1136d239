package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const (
	myProducts = `SELECT CAST(id AS CHAR), price_ht, stock, ean13, sku FROM products WHERE id IN (%s)`
	myTiers    = `SELECT CAST(product_id AS CHAR), CAST(tier_id AS CHAR), qty_min, price_ht FROM product_price_tiers WHERE product_id IN (%s) ORDER BY product_id, qty_min`
	myTenant   = `SELECT CAST(id AS CHAR), file_path FROM tenant_fonts WHERE tenant_id = ?`
	myGlobal   = `SELECT family_key, file_path FROM global_fonts`
)

// MySQL loads snapshots from a MySQL catalog.
type MySQL struct {
	DB *sql.DB
}

// OpenMySQL connects through the mysql driver and checks the pool with a ping.
func OpenMySQL(ctx context.Context, dsn string) (*MySQL, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql ping failed: %w", err)
	}
	return &MySQL{DB: db}, nil
}

func (m *MySQL) Close() error {
	if m.DB == nil {
		return nil
	}
	return m.DB.Close()
}

func (m *MySQL) Load(ctx context.Context, q Query) (*RenderContext, error) {
	rc := newContext()
	rc.AgentMode = q.AgentMode
	if len(q.ProductIDs) > 0 {
		in, args := placeholders(q.ProductIDs)
		if err := m.query(ctx, fmt.Sprintf(myProducts, in), func(r rows) error { return scanProducts(rc, r) }, args...); err != nil {
			return nil, err
		}
		if err := m.query(ctx, fmt.Sprintf(myTiers, in), func(r rows) error { return scanTiers(rc, r) }, args...); err != nil {
			return nil, err
		}
	}
	if q.TenantID != "" {
		if err := m.query(ctx, myTenant, func(r rows) error { return scanFonts(rc.TenantFonts, r) }, q.TenantID); err != nil {
			return nil, err
		}
	}
	if err := m.query(ctx, myGlobal, func(r rows) error { return scanFonts(rc.GlobalFonts, r) }); err != nil {
		return nil, err
	}
	return rc, nil
}

func (m *MySQL) query(ctx context.Context, query string, scan func(rows) error, args ...any) error {
	r, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("catalog query: %w", err)
	}
	defer r.Close()
	return scan(r)
}

// placeholders expands ids into an IN list.
func placeholders(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
