package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"github.com/xscopehub/modelmcp/internal/types"
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name        string
	DriverName  string
	IdentityDDL string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// ColumnType renders the DDL type for an attribute type.
	ColumnType func(t types.AttributeType) string
}

// DialectPostgres targets PostgreSQL through the pgx stdlib driver.
var DialectPostgres = Dialect{
	Name:        "postgres",
	DriverName:  "pgx",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	ColumnType: func(t types.AttributeType) string {
		switch t {
		case types.TypeInteger:
			return "INTEGER"
		case types.TypeBigint:
			return "BIGINT"
		case types.TypeFloat:
			return "DOUBLE PRECISION"
		case types.TypeDecimal:
			return "NUMERIC"
		case types.TypeBoolean:
			return "BOOLEAN"
		case types.TypeDate:
			return "DATE"
		case types.TypeDatetime:
			return "TIMESTAMPTZ"
		case types.TypeTime:
			return "TIME"
		default:
			return "TEXT"
		}
	},
	IdentityDDL: "BIGSERIAL PRIMARY KEY",
}

// DialectSQLite targets SQLite through mattn/go-sqlite3.
var DialectSQLite = Dialect{
	Name:        "sqlite",
	DriverName:  "sqlite3",
	Placeholder: func(int) string { return "?" },
	ColumnType: func(t types.AttributeType) string {
		switch t {
		case types.TypeInteger, types.TypeBigint:
			return "INTEGER"
		case types.TypeFloat:
			return "REAL"
		case types.TypeDecimal:
			return "NUMERIC"
		case types.TypeBoolean:
			return "BOOLEAN"
		case types.TypeDate:
			return "DATE"
		case types.TypeDatetime:
			return "DATETIME"
		case types.TypeTime:
			return "TIME"
		default:
			return "TEXT"
		}
	},
	IdentityDDL: "INTEGER PRIMARY KEY AUTOINCREMENT",
}

// SQL is a database/sql backed store.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL connects to the database and verifies it is reachable.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s dsn required", dialect.Name)
	}
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}
	return &SQL{db: db, dialect: dialect}, nil
}

// Close releases the connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates missing tables for the given models.
func (s *SQL) Migrate(ctx context.Context, models []types.ModelDescriptor) error {
	for _, desc := range models {
		if _, err := s.db.ExecContext(ctx, s.createTableDDL(desc)); err != nil {
			return fmt.Errorf("migrate %s: %w", desc.TableName(), err)
		}
	}
	return nil
}

func (s *SQL) createTableDDL(desc types.ModelDescriptor) string {
	cols := []string{quote(types.IDAttribute) + " " + s.dialect.IdentityDDL}
	for _, a := range desc.Attributes {
		if a.Name == types.IDAttribute {
			continue
		}
		def := quote(a.Name) + " " + s.dialect.ColumnType(a.Type)
		switch {
		case a.Name == "created_at" || a.Name == "updated_at":
			def += " NOT NULL DEFAULT CURRENT_TIMESTAMP"
		case !a.Nullable:
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(desc.TableName()), strings.Join(cols, ", "))
}

// Repository returns the table-backed repository for a model.
func (s *SQL) Repository(desc types.ModelDescriptor) (Repository, error) {
	cols := []string{types.IDAttribute}
	for _, name := range desc.AttributeNames() {
		if name != types.IDAttribute {
			cols = append(cols, name)
		}
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return &sqlRepo{
		s:       s,
		desc:    desc,
		table:   quote(desc.TableName()),
		columns: cols,
		selects: strings.Join(quoted, ", "),
	}, nil
}

type sqlRepo struct {
	s       *SQL
	desc    types.ModelDescriptor
	table   string
	columns []string
	selects string
}

func (r *sqlRepo) List(ctx context.Context) ([]Record, error) {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", r.selects, r.table, quote(types.IDAttribute))
	rows, err := r.s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.desc.PluralName(), err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *sqlRepo) FindByID(ctx context.Context, id int64) (Record, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", r.selects, r.table, quote(types.IDAttribute), r.s.dialect.Placeholder(1))
	rec, err := r.scan(r.s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *sqlRepo) Create(ctx context.Context, attrs map[string]any) (Record, error) {
	values, err := Coerce(r.desc, attrs, false)
	if err != nil {
		return nil, err
	}
	var cols, marks []string
	var args []any
	for _, a := range r.desc.WritableAttributes() {
		v, ok := values[a.Name]
		if !ok {
			continue
		}
		args = append(args, v)
		cols = append(cols, quote(a.Name))
		marks = append(marks, r.s.dialect.Placeholder(len(args)))
	}
	var q string
	if len(cols) == 0 {
		q = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", r.table, r.selects)
	} else {
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s", r.table, strings.Join(cols, ", "), strings.Join(marks, ", "), r.selects)
	}
	rec, err := r.scan(r.s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

func (r *sqlRepo) Update(ctx context.Context, id int64, attrs map[string]any) (Record, error) {
	values, err := Coerce(r.desc, attrs, true)
	if err != nil {
		return nil, err
	}
	var sets []string
	var args []any
	for _, a := range r.desc.WritableAttributes() {
		v, ok := values[a.Name]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, quote(a.Name)+" = "+r.s.dialect.Placeholder(len(args)))
	}
	if len(sets) == 0 {
		return r.FindByID(ctx, id)
	}
	if _, ok := r.desc.Attribute("updated_at"); ok {
		sets = append(sets, quote("updated_at")+" = CURRENT_TIMESTAMP")
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s RETURNING %s",
		r.table, strings.Join(sets, ", "), quote(types.IDAttribute), r.s.dialect.Placeholder(len(args)), r.selects)
	rec, err := r.scan(r.s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

func (r *sqlRepo) Delete(ctx context.Context, id int64) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", r.table, quote(types.IDAttribute), r.s.dialect.Placeholder(1))
	res, err := r.s.db.ExecContext(ctx, q, id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *sqlRepo) scan(row scanner) (Record, error) {
	values := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(Record, len(r.columns))
	for i, col := range r.columns {
		attr, ok := r.desc.Attribute(col)
		if !ok {
			attr = types.Attribute{Name: col, Type: types.TypeBigint}
		}
		rec[col] = normalize(attr.Type, values[i])
	}
	return rec, nil
}

// normalize turns driver values into JSON-friendly ones.
func normalize(t types.AttributeType, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch t {
	case types.TypeFloat, types.TypeDecimal:
		if f, ok := toFloat64(v); ok {
			return f
		}
	case types.TypeInteger, types.TypeBigint:
		if n, ok := toInt64(v); ok {
			return n
		}
	case types.TypeBoolean:
		if n, ok := v.(int64); ok {
			return n != 0
		}
	case types.TypeDate:
		if tm, ok := v.(time.Time); ok {
			return tm.Format("2006-01-02")
		}
	case types.TypeTime:
		if tm, ok := v.(time.Time); ok {
			return tm.Format("15:04:05")
		}
	}
	return v
}

// classify maps constraint and data errors onto ValidationError.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22") {
			return &ValidationError{Problems: []string{pgErr.Message}}
		}
		return err
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrConstraint || liteErr.Code == sqlite3.ErrMismatch {
			return &ValidationError{Problems: []string{liteErr.Error()}}
		}
	}
	return err
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
