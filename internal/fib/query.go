package fib

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrEmptyQuery is returned for query text without any searchable token.
var ErrEmptyQuery = errors.New("query has no searchable terms")

// QueryState is the lifecycle state of a query.
type QueryState int32

const (
	QueryInit QueryState = iota
	QueryScanning
	// QueryPaused is held by every active query while the index is paused.
	QueryPaused
	QueryDone
	QueryCancelled
)

func (s QueryState) String() string {
	switch s {
	case QueryInit:
		return "init"
	case QueryScanning:
		return "scanning"
	case QueryPaused:
		return "paused"
	case QueryDone:
		return "done"
	case QueryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Query is the token identifying one incremental search. A Query must be
// stepped by one goroutine at a time.
type Query struct {
	ID    string
	Text  string
	terms []string
	state atomic.Int32
}

// State returns the query's lifecycle state.
func (q *Query) State() QueryState {
	return QueryState(q.state.Load())
}

// Terms returns the analyzed query tokens.
func (q *Query) Terms() []string {
	return q.terms
}

// Match is one matching value inside a document.
type Match struct {
	Location string `json:"location"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// Result is a matching asset.
type Result struct {
	AssetPath string  `json:"asset_path"`
	Matches   []Match `json:"matches"`
}

type cursor struct {
	pos atomic.Int64
}

// queryTable holds the cursor of every active query.
type queryTable struct {
	mu      sync.Mutex
	cursors map[*Query]*cursor
}

func (t *queryTable) get(q *Query) *cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursors[q]
}

func (t *queryTable) remove(q *Query) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.cursors[q]; !ok {
		return false
	}
	delete(t.cursors, q)
	return true
}

func (t *queryTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cursors)
}

// NewQuery analyzes text into a query token.
func (m *Manager) NewQuery(text string) (*Query, error) {
	terms := m.matcher.terms(text)
	if len(terms) == 0 {
		return nil, ErrEmptyQuery
	}
	return &Query{ID: uuid.NewString(), Text: text, terms: terms}, nil
}

// BeginSearchQuery registers a cursor at the first record.
func (m *Manager) BeginSearchQuery(q *Query) {
	m.gate.enter()
	defer m.gate.leave()

	m.queries.mu.Lock()
	if _, ok := m.queries.cursors[q]; ok {
		m.queries.mu.Unlock()
		return
	}
	m.queries.cursors[q] = &cursor{}
	m.queries.mu.Unlock()

	q.state.Store(int32(QueryScanning))
	m.metrics.Query("started")
	m.logger.Debug("search query started", "query_id", q.ID, "text", q.Text)
}

// ContinueSearchQuery processes the next live record for q. It returns
// whether records remain and the result for the processed record, if it
// matched. Tombstoned and destroyed records are skipped without yielding.
// The step blocks while the index is paused and while waiting on a cache read.
func (m *Manager) ContinueSearchQuery(ctx context.Context, q *Query) (bool, *Result) {
	m.gate.enter()
	defer m.gate.leave()

	cur := m.queries.get(q)
	if cur == nil {
		return false, nil
	}

	for {
		idx := int(cur.pos.Load())
		v, ok, _ := m.store.at(idx)
		if !ok {
			m.endQuery(q, QueryDone)
			return false, nil
		}

		if v.tombstoned {
			cur.pos.Add(1)
			continue
		}
		if v.asset != nil && !v.asset.IsValid() {
			m.store.markDead(v.rec)
			cur.pos.Add(1)
			continue
		}

		doc, err := m.documentFor(ctx, v)
		if err != nil && ctx.Err() != nil {
			// Cancelled while waiting; the record is retried on the next step.
			return true, nil
		}
		if err != nil {
			m.logger.Warn("failed to produce search document", "path", v.rec.Path, "error", err)
		}
		cur.pos.Store(int64(idx + 1))

		res, err := m.matcher.match(v.rec.Path, q.terms, doc)
		if err != nil {
			m.logger.Warn("unreadable search document", "path", v.rec.Path, "error", err)
			m.indexer.enqueue(v.rec.Path)
		}
		m.metrics.QueryStep(res != nil)

		hasMore := idx+1 < m.store.size()
		if !hasMore {
			m.endQuery(q, QueryDone)
		}
		return hasMore, res
	}
}

// EnsureSearchQueryEnds removes q's cursor if it is still registered. An
// in-flight step for q completes first.
func (m *Manager) EnsureSearchQueryEnds(q *Query) {
	m.gate.enter()
	defer m.gate.leave()
	m.endQuery(q, QueryCancelled)
}

// endQuery must not take the gate; callers may already be inside it.
func (m *Manager) endQuery(q *Query, state QueryState) {
	if !m.queries.remove(q) {
		return
	}
	q.state.Store(int32(state))
	m.metrics.Query(state.String())
	m.logger.Debug("search query ended", "query_id", q.ID, "state", state)
}

// GetPercentComplete returns the fraction of records q has visited: 1 once
// done, 0 for a query without a cursor.
func (m *Manager) GetPercentComplete(q *Query) float64 {
	if q.State() == QueryDone {
		return 1
	}
	cur := m.queries.get(q)
	if cur == nil {
		return 0
	}
	total := m.store.size()
	if total == 0 {
		return 0
	}
	return min(float64(cur.pos.Load())/float64(total), 1)
}

// ActiveQueries returns the number of queries holding a cursor.
func (m *Manager) ActiveQueries() int {
	return m.queries.len()
}

// SearchResults is the outcome of Search.
type SearchResults struct {
	QueryID string   `json:"query_id"`
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	// Truncated is set when the limit stopped the scan early.
	Truncated bool `json:"truncated"`
	// Incomplete is set when some assets have no document yet.
	Incomplete bool `json:"incomplete"`
}

// Search runs a query to completion on a worker goroutine and collects up to
// limit results (all when limit <= 0).
func (m *Manager) Search(ctx context.Context, text string, limit int) (*SearchResults, error) {
	q, err := m.NewQuery(text)
	if err != nil {
		return nil, err
	}

	m.BeginSearchQuery(q)
	defer m.EnsureSearchQueryEnds(q)

	out := &SearchResults{QueryID: q.ID, Query: text, Results: []Result{}}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			more, res := m.ContinueSearchQuery(ctx, q)
			if res != nil {
				out.Results = append(out.Results, *res)
				if limit > 0 && len(out.Results) >= limit {
					out.Truncated = more
					return
				}
			}
			if !more {
				return
			}
		}
	}()
	<-done

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out.Incomplete = m.indexer.incomplete()
	return out, nil
}
