// Package repo runs Cypher through neo4j sessions behind minimal interfaces
// so callers can be tested without a database.
package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrNoRows is returned by Single when the query yields nothing.
var ErrNoRows = errors.New("repo: no rows")

// Result is the minimal interface needed from a neo4j result.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Runner is the minimal interface needed from a neo4j session.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// Opener hands out sessions.
type Opener interface {
	Open(ctx context.Context) Runner
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) Runner

func (f OpenerFunc) Open(ctx context.Context) Runner { return f(ctx) }

// DriverOpener opens sessions on one database of a driver.
type DriverOpener struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewDriverOpener creates an Opener for database. An empty database uses the
// server default.
func NewDriverOpener(driver neo4j.DriverWithContext, database string) *DriverOpener {
	return &DriverOpener{driver: driver, database: database}
}

func (o *DriverOpener) Open(ctx context.Context) Runner {
	return &sessionAdapter{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: o.database})}
}

// sessionAdapter adapts neo4j.SessionWithContext to the Runner interface.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Rows runs cypher on a fresh session and collects every record by key.
func Rows(ctx context.Context, o Opener, cypher string, params map[string]any) ([]map[string]any, error) {
	sess := o.Open(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for result.Next(ctx) {
		rows = append(rows, result.Record().AsMap())
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Single runs cypher and returns its first row.
func Single(ctx context.Context, o Opener, cypher string, params map[string]any) (map[string]any, error) {
	rows, err := Rows(ctx, o, cypher, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

// FieldError reports a missing or mistyped column in a row.
type FieldError struct {
	Key  string
	Want string
	Got  any
}

func (e *FieldError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("field %q: missing, want %s", e.Key, e.Want)
	}
	return fmt.Sprintf("field %q: got %T, want %s", e.Key, e.Got, e.Want)
}

// Int returns an integer column. The driver decodes Cypher integers as int64.
func Int(row map[string]any, key string) (int64, error) {
	switch v := row[key].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, &FieldError{Key: key, Want: "integer", Got: v}
	}
}

// Float returns a numeric column as float64.
func Float(row map[string]any, key string) (float64, error) {
	switch v := row[key].(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return 0, &FieldError{Key: key, Want: "number", Got: v}
	}
}

// String returns a string column.
func String(row map[string]any, key string) (string, error) {
	if v, ok := row[key].(string); ok {
		return v, nil
	}
	return "", &FieldError{Key: key, Want: "string", Got: row[key]}
}

// Bool returns a boolean column.
func Bool(row map[string]any, key string) (bool, error) {
	if v, ok := row[key].(bool); ok {
		return v, nil
	}
	return false, &FieldError{Key: key, Want: "boolean", Got: row[key]}
}

// Strings returns a list-of-strings column.
func Strings(row map[string]any, key string) ([]string, error) {
	switch v := row[key].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, &FieldError{Key: key, Want: "list of strings", Got: v}
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, &FieldError{Key: key, Want: "list of strings", Got: v}
	}
}

// Map returns a map column.
func Map(row map[string]any, key string) (map[string]any, error) {
	if v, ok := row[key].(map[string]any); ok {
		return v, nil
	}
	return nil, &FieldError{Key: key, Want: "map", Got: row[key]}
}
