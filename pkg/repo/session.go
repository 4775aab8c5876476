package repo

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the subset of neo4j.ResultWithContext the stores read.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Session is the subset of neo4j.SessionWithContext the stores use.
type Session interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// Opener opens sessions. Tests substitute an in-memory implementation.
type Opener interface {
	Session(ctx context.Context) Session
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) Session

func (f OpenerFunc) Session(ctx context.Context) Session { return f(ctx) }

// DriverOpener opens sessions on a real driver against database ("" = default).
func DriverOpener(driver neo4j.DriverWithContext, database string) Opener {
	return OpenerFunc(func(ctx context.Context) Session {
		return &sessionAdapter{sess: driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: database})}
	})
}

// sessionAdapter adapts neo4j.SessionWithContext to Session.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Exec runs a statement and drains its result.
func Exec(ctx context.Context, o Opener, cypher string, params map[string]any) error {
	sess := o.Session(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	for res.Next(ctx) {
	}
	return res.Err()
}

// Collect runs a query and returns all of its records.
func Collect(ctx context.Context, o Opener, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	sess := o.Session(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var out []*neo4j.Record
	for res.Next(ctx) {
		out = append(out, res.Record())
	}
	return out, res.Err()
}
