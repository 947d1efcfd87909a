package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"webscout/internal/embedding"
	"webscout/internal/logging"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("cache: closed")

// defaultRequestTimeout bounds how long callers wait on the worker
// before failing open.
const defaultRequestTimeout = 10 * time.Second

type opKind int

const (
	opLookup opKind = iota
	opPut
	opUpdateDigest
	opDeleteSession
	opStats
)

type request struct {
	id        string
	kind      opKind
	ctx       context.Context
	sessionID string
	query     string
	answer    string
	meta      Metadata
	entryID   int64
	digest    string
	reply     chan response
}

type response struct {
	match   *Match
	entryID int64
	deleted int64
	stats   map[string]int64
	err     error
}

// Cache serializes all store access through one worker goroutine.
// Callers that cannot get an answer within the request timeout fail
// open: lookups report a miss, writes report an error.
type Cache struct {
	requests chan request
	done     chan struct{}
	timeout  time.Duration
}

// Options tunes the cache.
type Options struct {
	DatabasePath   string
	Thresholds     Thresholds
	RequestTimeout time.Duration
}

// Open creates the store and starts the worker.
func Open(opts Options, engine embedding.Engine) (*Cache, error) {
	if opts.Thresholds.High == 0 && opts.Thresholds.Medium == 0 {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	st, err := openStore(opts.DatabasePath, engine, opts.Thresholds)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		requests: make(chan request),
		done:     make(chan struct{}),
		timeout:  opts.RequestTimeout,
	}
	go c.run(st)
	return c, nil
}

func (c *Cache) run(st *store) {
	defer st.close()
	for {
		select {
		case req := <-c.requests:
			req.reply <- c.handle(st, req)
		case <-c.done:
			return
		}
	}
}

func (c *Cache) handle(st *store, req request) response {
	timer := logging.StartTimer(logging.CategoryCache, "cache.request")
	defer timer.Stop()

	switch req.kind {
	case opLookup:
		match, err := st.lookup(req.ctx, req.query)
		return response{match: match, err: err}
	case opPut:
		id, err := st.put(req.ctx, req.sessionID, req.query, req.answer, req.meta)
		return response{entryID: id, err: err}
	case opUpdateDigest:
		return response{err: st.updateDigest(req.ctx, req.entryID, req.digest)}
	case opDeleteSession:
		n, err := st.deleteSession(req.ctx, req.sessionID)
		return response{deleted: n, err: err}
	case opStats:
		stats, err := st.stats(req.ctx)
		return response{stats: stats, err: err}
	}
	return response{err: errors.New("cache: unknown operation")}
}

// send submits a request and waits for the reply, the timeout, or
// context cancellation, whichever comes first.
func (c *Cache) send(req request) (response, error) {
	req.id = uuid.NewString()
	req.reply = make(chan response, 1)

	timeout := time.NewTimer(c.timeout)
	defer timeout.Stop()

	select {
	case c.requests <- req:
	case <-timeout.C:
		logging.CacheWarn("Cache worker busy, request %s timed out before dispatch", req.id)
		return response{}, context.DeadlineExceeded
	case <-req.ctx.Done():
		return response{}, req.ctx.Err()
	case <-c.done:
		return response{}, ErrClosed
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-timeout.C:
		logging.CacheWarn("Cache worker request %s timed out awaiting reply", req.id)
		return response{}, context.DeadlineExceeded
	case <-req.ctx.Done():
		return response{}, req.ctx.Err()
	}
}

// Lookup finds the nearest cached answer to the query. Any failure,
// including a worker timeout, reports a miss so research proceeds.
func (c *Cache) Lookup(ctx context.Context, query string) *Match {
	resp, err := c.send(request{kind: opLookup, ctx: ctx, query: query})
	if err != nil || resp.err != nil {
		if err == nil {
			err = resp.err
		}
		logging.CacheWarn("Cache lookup failed open to miss: %v", err)
		return &Match{Distance: 1, Tier: TierMiss}
	}
	return resp.match
}

// Put stores a completed research result and returns its entry id for
// later digest updates.
func (c *Cache) Put(ctx context.Context, sessionID, query, answer string, meta Metadata) (int64, error) {
	resp, err := c.send(request{kind: opPut, ctx: ctx, sessionID: sessionID, query: query, answer: answer, meta: meta})
	if err != nil {
		return 0, err
	}
	return resp.entryID, resp.err
}

// UpdateDigest attaches a generated digest to a stored entry.
func (c *Cache) UpdateDigest(ctx context.Context, entryID int64, digest string) error {
	resp, err := c.send(request{kind: opUpdateDigest, ctx: ctx, entryID: entryID, digest: digest})
	if err != nil {
		return err
	}
	return resp.err
}

// DeleteSession clears every cached entry for a session. Used when the
// user asks for fresh research.
func (c *Cache) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	resp, err := c.send(request{kind: opDeleteSession, ctx: ctx, sessionID: sessionID})
	if err != nil {
		return 0, err
	}
	return resp.deleted, resp.err
}

// Stats reports entry counts.
func (c *Cache) Stats(ctx context.Context) (map[string]int64, error) {
	resp, err := c.send(request{kind: opStats, ctx: ctx})
	if err != nil {
		return nil, err
	}
	return resp.stats, resp.err
}

// Close stops the worker and closes the database.
func (c *Cache) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
