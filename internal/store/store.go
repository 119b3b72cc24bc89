// Package store defines the persistence capability the CRUD tools depend on
// and ships memory and SQL implementations of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xscopehub/modelmcp/internal/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Record is one stored entity keyed by attribute name.
type Record map[string]any

// ID returns the record identity, or 0 when absent.
func (r Record) ID() int64 {
	id, _ := toInt64(r[types.IDAttribute])
	return id
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ValidationError reports input the backend refused to persist.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "Validation failed: " + strings.Join(e.Problems, ", ")
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Repository is the narrow capability a model's tools need.
type Repository interface {
	List(ctx context.Context) ([]Record, error)
	FindByID(ctx context.Context, id int64) (Record, error)
	Create(ctx context.Context, attrs map[string]any) (Record, error)
	Update(ctx context.Context, id int64, attrs map[string]any) (Record, error)
	Delete(ctx context.Context, id int64) error
}

// Backend hands out repositories per model.
type Backend interface {
	Repository(desc types.ModelDescriptor) (Repository, error)
	Close() error
}

// Open builds a backend for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Backend, error) {
	switch strings.ToLower(driver) {
	case "", "memory":
		return NewMemory(), nil
	case "postgres", "pgx":
		return OpenSQL(ctx, DialectPostgres, dsn)
	case "sqlite", "sqlite3":
		return OpenSQL(ctx, DialectSQLite, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
