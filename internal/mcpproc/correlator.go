package mcpproc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcp"
)

const defaultMaxWaiters = 10_000

// Correlator implements the RPC Correlator (C2): it allocates monotonic
// per-child request IDs, matches responses to waiters, and enforces
// per-request deadlines. Grounded in RevittCo-mcplexer's requestQueue/Call
// single-writer-per-child pattern, chosen over the teacher's per-call
// goroutine race because it makes "one writer per child" and "duplicate
// id dropped" structural rather than incidental.
type Correlator struct {
	framer *Framer
	log    *slog.Logger

	nextID int64 // atomic, starts effectively at 1 via Add

	mu      sync.Mutex
	waiters map[int64]chan *mcp.Response
	maxWait int

	notifyCh   chan mcp.Request
	synthErrCh chan *mcp.Response
	closed     atomic.Bool
}

// NewCorrelator wraps framer. maxWaiters bounds the pending-waiter table
// per spec.md §5 (default 10 000); exceeding it fails the new call with
// kind=backpressure without disturbing earlier requests.
func NewCorrelator(framer *Framer, maxWaiters int, log *slog.Logger) *Correlator {
	if maxWaiters <= 0 {
		maxWaiters = defaultMaxWaiters
	}
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{
		framer:     framer,
		log:        log,
		waiters:    make(map[int64]chan *mcp.Response),
		maxWait:    maxWaiters,
		notifyCh:   make(chan mcp.Request, 1024),
		synthErrCh: make(chan *mcp.Response, 1024),
	}
}

// Notifications exposes the observer sink for server-initiated messages
// with no id; they never resolve a waiter (spec.md §4.2).
func (c *Correlator) Notifications() <-chan mcp.Request {
	return c.notifyCh
}

// SyntheticErrors exposes the observer sink for responses a child sends
// with id=0. spec.md §4.2 reserves id=0 for the framer's own synthetic
// errors, and §8 requires those to land on a distinct channel rather than
// being merged into the generic unknown/expired-waiter drop path, since
// Call never allocates id=0 to a real waiter (ids start at 1).
func (c *Correlator) SyntheticErrors() <-chan *mcp.Response {
	return c.synthErrCh
}

// Run reads framed messages until the framer reports EOF or an
// unrecoverable error, dispatching each to a waiter, the notification
// sink, or logging-and-dropping it as a protocol violation. It is meant
// to run in its own goroutine for the lifetime of the child.
func (c *Correlator) Run() {
	for {
		raw, err := c.framer.ReadMessage()
		if err != nil {
			c.FailAll(errs.New(errs.ChildExited, "child closed stdout"))
			close(c.notifyCh)
			close(c.synthErrCh)
			return
		}

		var probe struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if jsonErr := json.Unmarshal(raw, &probe); jsonErr != nil {
			c.log.Warn("mcpproc: protocol violation, discarding line", "error", jsonErr)
			continue
		}

		if probe.Method != "" && len(probe.ID) == 0 {
			// Server-initiated notification.
			var req mcp.Request
			if err := json.Unmarshal(raw, &req); err == nil {
				select {
				case c.notifyCh <- req:
				default:
					c.log.Warn("mcpproc: notification sink full, dropping")
				}
			}
			continue
		}

		var resp mcp.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.log.Warn("mcpproc: malformed response, discarding line", "error", err)
			continue
		}

		id, ok := decodeID(resp.ID)
		if !ok {
			c.log.Warn("mcpproc: response with non-numeric id, discarding")
			continue
		}

		if id == 0 {
			// Reserved for the child's own synthetic errors (spec.md §4.2);
			// Call never hands out id=0, so this never resolves a waiter.
			select {
			case c.synthErrCh <- &resp:
			default:
				c.log.Warn("mcpproc: synthetic-error sink full, dropping")
			}
			continue
		}

		c.mu.Lock()
		waiter, exists := c.waiters[id]
		if exists {
			delete(c.waiters, id)
		}
		c.mu.Unlock()

		if !exists {
			// Already timed out, cancelled, or a duplicate id response.
			c.log.Debug("mcpproc: response for unknown/expired id, dropping", "id", id)
			continue
		}
		waiter <- &resp
	}
}

func decodeID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}

// Call allocates the next id, registers a waiter, writes the request
// through the framer, and blocks until a response, deadline, or context
// cancellation. IDs start at 1; 0 is never allocated (spec.md §4.2
// reserves id=0 handling for a child's own synthetic traffic).
func (c *Correlator) Call(ctx context.Context, method string, params json.RawMessage, deadline time.Duration) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, errs.New(errs.ShuttingDown, "correlator is shutting down")
	}

	id := atomic.AddInt64(&c.nextID, 1)

	respCh := make(chan *mcp.Response, 1)
	c.mu.Lock()
	if len(c.waiters) >= c.maxWait {
		c.mu.Unlock()
		return nil, errs.New(errs.Backpressure, "pending-waiter table full")
	}
	c.waiters[id] = respCh
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}

	idBytes, _ := json.Marshal(id)
	req := mcp.Request{JSONRPC: "2.0", ID: idBytes, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		release()
		return nil, errs.Wrap(errs.Internal, err, "marshal request")
	}

	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := c.framer.WriteMessage(callCtx, data); err != nil {
		release()
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			if len(resp.ID) == 0 {
				// Released by FailAll rather than answered by the child.
				return nil, errs.New(errs.ChildExited, resp.Error.Message)
			}
			return nil, &mcpError{rpc: resp.Error}
		}
		return resp.Result, nil
	case <-callCtx.Done():
		release()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.New(errs.MCPTimeout, "rpc call deadline exceeded")
	}
}

// Notify writes a notification (no id, no response expected).
func (c *Correlator) Notify(ctx context.Context, method string, params json.RawMessage) error {
	req := mcp.Request{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "marshal notification")
	}
	return c.framer.WriteMessage(ctx, data)
}

// FailAll releases every pending waiter with err, used when the child
// exits (spec.md §4.3's "all pending waiters for that child are failed
// with kind=child-exited").
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[int64]chan *mcp.Response)
	c.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- &mcp.Response{Error: &mcp.RPCError{Code: mcp.CodeInternalError, Message: err.Error()}}:
		default:
		}
	}
}

// Close marks the correlator as shutting down; new Call()s fail fast.
func (c *Correlator) Close() {
	c.closed.Store(true)
}

// mcpError wraps a child's verbatim JSON-RPC error object so callers (the
// HTTP proxy) can pass it through under result.error per spec.md §9's
// open-question resolution, rather than collapsing it into a gateway
// error kind.
type mcpError struct {
	rpc *mcp.RPCError
}

func (e *mcpError) Error() string { return e.rpc.Message }

// RPCError extracts the verbatim child JSON-RPC error, if err is one.
func RPCError(err error) (*mcp.RPCError, bool) {
	if me, ok := err.(*mcpError); ok {
		return me.rpc, true
	}
	return nil, false
}
