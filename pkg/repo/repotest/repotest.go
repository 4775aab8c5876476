// Package repotest provides an in-memory repo.Opener for tests. Each Run is
// recorded and answered by a handler.
package repotest

import (
	"context"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/vanfleet/pkg/repo"
)

// Call is one recorded statement.
type Call struct {
	Cypher string
	Params map[string]any
}

// Handler answers a statement with records or an error.
type Handler func(cypher string, params map[string]any) ([]*neo4j.Record, error)

// Opener is a fake repo.Opener.
type Opener struct {
	mu      sync.Mutex
	calls   []Call
	handler Handler
	closed  int
}

// New returns an Opener answering with h. A nil h answers every statement
// with no records.
func New(h Handler) *Opener {
	if h == nil {
		h = func(string, map[string]any) ([]*neo4j.Record, error) { return nil, nil }
	}
	return &Opener{handler: h}
}

func (o *Opener) Session(context.Context) repo.Session { return &session{o: o} }

// Calls returns every recorded statement in order.
func (o *Opener) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Call(nil), o.calls...)
}

// Closed returns how many sessions were closed.
func (o *Opener) Closed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type session struct{ o *Opener }

func (s *session) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	s.o.mu.Lock()
	s.o.calls = append(s.o.calls, Call{Cypher: cypher, Params: params})
	h := s.o.handler
	s.o.mu.Unlock()

	recs, err := h(cypher, params)
	if err != nil {
		return nil, err
	}
	return &Result{Records: recs}, nil
}

func (s *session) Close(context.Context) error {
	s.o.mu.Lock()
	s.o.closed++
	s.o.mu.Unlock()
	return nil
}

// Result iterates a fixed list of records.
type Result struct {
	Records []*neo4j.Record
	Error   error
	idx     int
}

func (r *Result) Next(context.Context) bool {
	if r.idx < len(r.Records) {
		r.idx++
		return true
	}
	return false
}

func (r *Result) Record() *neo4j.Record { return r.Records[r.idx-1] }

func (r *Result) Err() error { return r.Error }

// Record builds a record from alternating key, value pairs.
func Record(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}
