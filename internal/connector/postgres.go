package connector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Postgres loads a table or query result through pgx. The location is a
// Postgres URL; the table can be given as a fragment:
//
//	postgres://user:pw@host:5432/app#public.users
type Postgres struct {
	src  Source
	opts DatabaseOptions
}

// NewPostgres creates a pgx-backed connector for src.
func NewPostgres(src Source, opts DatabaseOptions) *Postgres {
	return &Postgres{src: src, opts: opts.withDefaults()}
}

// Load implements Connector.
func (p *Postgres) Load(ctx context.Context, location string) (Table, error) {
	dsn, fragment := splitFragment(location)
	query, err := selectQuery(p.src, fragment, func(parts []string) string {
		return pgx.Identifier(parts).Sanitize()
	})
	if err != nil {
		return nil, &LoadError{Location: Redact(location), Reason: err.Error(), Err: err}
	}

	conn, err := p.connect(ctx, dsn)
	if err != nil {
		return nil, &LoadError{Location: Redact(location), Reason: "connect: " + err.Error(), Err: err}
	}
	defer conn.Close(context.Background())

	qctx, cancel := context.WithTimeout(ctx, p.opts.QueryTimeout)
	defer cancel()
	rows, err := conn.Query(qctx, query)
	if err != nil {
		return nil, &LoadError{Location: Redact(location), Reason: "query: " + err.Error(), Err: err}
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, &LoadError{Location: Redact(location), Reason: "read rows: " + err.Error(), Err: err}
	}

	table := make(Table, len(records))
	for i, rec := range records {
		for k, v := range rec {
			if n, ok := v.(pgtype.Numeric); ok {
				rec[k] = numericValue(n)
			}
		}
		table[i] = normalizeRow(rec)
	}
	return table, nil
}

// Validate implements Connector.
func (p *Postgres) Validate(ctx context.Context, location string) bool {
	dsn, _ := splitFragment(location)
	conn, err := p.connect(ctx, dsn)
	if err != nil {
		return false
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx) == nil
}

func (p *Postgres) connect(ctx context.Context, dsn string) (*pgx.Conn, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnectTimeout = p.opts.ConnectTimeout
	return pgx.ConnectConfig(ctx, cfg)
}

func numericValue(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	if i, err := n.Int64Value(); err == nil && i.Valid && n.Exp >= 0 {
		return i.Int64
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return nil
	}
	return f.Float64
}

// splitFragment separates "dsn#table" into its parts.
func splitFragment(location string) (dsn, fragment string) {
	if i := strings.LastIndexByte(location, '#'); i >= 0 {
		return location[:i], location[i+1:]
	}
	return location, ""
}

// selectQuery returns the source's query, or SELECT * over the source's
// table (falling back to the location fragment).
func selectQuery(src Source, fragment string, quote func([]string) string) (string, error) {
	if q := strings.TrimSpace(src.Query); q != "" {
		return q, nil
	}
	table := src.Table
	if table == "" {
		table = fragment
	}
	if table == "" {
		return "", fmt.Errorf("no table or query: add #table to the location or configure a query")
	}
	q := "SELECT * FROM " + quote(strings.Split(table, "."))
	if src.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", src.Limit)
	}
	return q, nil
}

// Redact hides credentials before a location reaches logs or reports.
func Redact(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.User == nil {
		return location
	}
	return u.Redacted()
}
