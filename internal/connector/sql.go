package connector

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// SQL loads through database/sql. Locations carry a "sql+" prefix in front
// of the driver's own DSN, e.g. sql+postgres://user:pw@host/app#users.
type SQL struct {
	driver string
	src    Source
	opts   DatabaseOptions
}

// NewSQL creates a database/sql connector for the named driver.
func NewSQL(driver string, src Source, opts DatabaseOptions) *SQL {
	return &SQL{driver: driver, src: src, opts: opts.withDefaults()}
}

// Load implements Connector.
func (s *SQL) Load(ctx context.Context, location string) (Table, error) {
	dsn, fragment := splitFragment(strings.TrimPrefix(location, "sql+"))
	query, err := selectQuery(s.src, fragment, quoteIdent)
	if err != nil {
		return nil, &LoadError{Location: Redact(location), Reason: err.Error(), Err: err}
	}

	db, err := s.open(ctx, dsn)
	if err != nil {
		return nil, &LoadError{Location: Redact(location), Reason: "connect: " + err.Error(), Err: err}
	}
	defer db.Close()

	qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()
	rows, err := db.QueryContext(qctx, query)
	if err != nil {
		return nil, &LoadError{Location: Redact(location), Reason: "query: " + err.Error(), Err: err}
	}
	defer rows.Close()

	table, err := scanRows(rows)
	if err != nil {
		return nil, &LoadError{Location: Redact(location), Reason: "read rows: " + err.Error(), Err: err}
	}
	return table, nil
}

// Validate implements Connector.
func (s *SQL) Validate(ctx context.Context, location string) bool {
	dsn, _ := splitFragment(strings.TrimPrefix(location, "sql+"))
	db, err := s.open(ctx, dsn)
	if err != nil {
		return false
	}
	db.Close()
	return true
}

func (s *SQL) open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(s.driver, dsn)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func scanRows(rows *sql.Rows) (Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	var table Table
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = sqlValue(types[i].DatabaseTypeName(), vals[i])
		}
		table = append(table, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if table == nil {
		table = Table{}
	}
	return table, nil
}

// sqlValue decodes the text form drivers use for exact numerics.
func sqlValue(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return normalize(v)
	}
	switch strings.ToUpper(dbType) {
	case "NUMERIC", "DECIMAL":
		s := string(b)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	}
	return string(b)
}

func quoteIdent(parts []string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(quoted, ".")
}
