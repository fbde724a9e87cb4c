// Package database provides an authenticated, persistent RPC-over-websocket
// session against the streaming document store, exposing both a one-shot
// read and a live-subscription per resource.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/yatesi-xyz/statserver/internal/config"
	"github.com/yatesi-xyz/statserver/internal/errs"
)

// CountUpdate is a single notification or one-shot read result.
type CountUpdate struct {
	Count uint64
}

// LiveEvent is one element of a live subscription: either a fresh
// notification or a recoverable/fatal stream error. A fatal transport error
// closes the channel, after emitting a final error value if the channel's
// buffer has room for it.
type LiveEvent struct {
	Update CountUpdate
	Err    error
}

type rpcRequest struct {
	ID     string        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// liveNotification is the shape of an unsolicited push: no "id" field that
// matches a pending request, carrying the live query id instead inside its
// result.
type liveNotification struct {
	ID     string          `json:"id"`
	Action string          `json:"action"`
	Result json.RawMessage `json:"result"`
}

// countRecord decodes Count as a signed integer so a wire value the store
// should never produce (a negative count) still unmarshals instead of
// failing the whole read; clamped() maps it to zero rather than propagating
// a negative value into CountUpdate.
type countRecord struct {
	Count int64 `json:"count"`
}

func (r countRecord) clamped() uint64 {
	if r.Count < 0 {
		return 0
	}
	return uint64(r.Count)
}

// Client is a persistent, authenticated session. It performs no
// reconnection of its own — the burst aggregator owns reconnect and
// re-synchronisation, per the live-subscription design.
type Client struct {
	conn *websocket.Conn

	readCtx    context.Context
	cancelRead context.CancelFunc

	pendingMu sync.Mutex
	pending   map[string]chan rpcEnvelope

	liveMu sync.Mutex
	live   map[string]chan LiveEvent

	closeOnce sync.Once
	closeErr  error
}

// Connect dials the document store, authenticates with root credentials, and
// selects the configured namespace/database. Each sub-step reports a
// distinct error kind.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, cfg.DSN, nil)
	if err != nil {
		return nil, errs.New("database", errs.CodeDatabaseConnection,
			errs.WithMessage("dialing database"), errs.WithCause(err))
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:       conn,
		readCtx:    readCtx,
		cancelRead: cancel,
		pending:    make(map[string]chan rpcEnvelope),
		live:       make(map[string]chan LiveEvent),
	}
	go c.readPump()

	if _, err := c.call(ctx, "signin", map[string]string{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		_ = c.Close()
		return nil, errs.New("database", errs.CodeDatabaseAuth,
			errs.WithMessage("signing in"), errs.WithCause(err))
	}

	if _, err := c.call(ctx, "use", cfg.Namespace, cfg.Database); err != nil {
		_ = c.Close()
		return nil, errs.New("database", errs.CodeDatabaseNamespace,
			errs.WithMessage("selecting namespace/database"), errs.WithCause(err))
	}

	return c, nil
}

// Close tears down the websocket session. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancelRead()
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
	})
	return c.closeErr
}

// ReadOnce returns the current count for resource, or 0 if the resource has
// no row yet — absence is not an error.
func (c *Client) ReadOnce(ctx context.Context, resource string) (uint64, error) {
	result, err := c.call(ctx, "select", resource)
	if err != nil {
		return 0, errs.New("database", errs.CodeDatabaseCommand,
			errs.WithResource(resource), errs.WithMessage("select"), errs.WithCause(err))
	}

	var records []countRecord
	if err := json.Unmarshal(result, &records); err == nil {
		if len(records) == 0 {
			return 0, nil
		}
		return records[0].clamped(), nil
	}

	var single countRecord
	if err := json.Unmarshal(result, &single); err != nil {
		return 0, errs.New("database", errs.CodeDatabaseCommand,
			errs.WithResource(resource), errs.WithMessage("decoding select result"), errs.WithCause(err))
	}
	return single.clamped(), nil
}

// Live opens a restartable live subscription for resource. The returned
// channel receives one LiveEvent per notification; it performs no internal
// retry, and is closed after a fatal transport error. The channel buffers 16
// events: while it is full, further notifications and the final error are
// dropped rather than blocking the connection's reader.
func (c *Client) Live(ctx context.Context, resource string) (<-chan LiveEvent, error) {
	result, err := c.call(ctx, "live", resource)
	if err != nil {
		return nil, errs.New("database", errs.CodeDatabaseCommand,
			errs.WithResource(resource), errs.WithMessage("live select"), errs.WithCause(err))
	}

	var liveID string
	if err := json.Unmarshal(result, &liveID); err != nil {
		return nil, errs.New("database", errs.CodeDatabaseCommand,
			errs.WithResource(resource), errs.WithMessage("decoding live query id"), errs.WithCause(err))
	}

	ch := make(chan LiveEvent, 16)
	c.liveMu.Lock()
	c.live[liveID] = ch
	c.liveMu.Unlock()

	return ch, nil
}

func (c *Client) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	respCh := make(chan rpcEnvelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// readPump is the connection's single reader: it dispatches responses to
// their waiting caller by id, and unsolicited live notifications to the
// subscription channel matching their live query id.
func (c *Client) readPump() {
	for {
		_, data, err := c.conn.Read(c.readCtx)
		if err != nil {
			c.failAll(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var envelope rpcEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	if envelope.ID != "" {
		c.pendingMu.Lock()
		ch, ok := c.pending[envelope.ID]
		c.pendingMu.Unlock()
		if ok {
			ch <- envelope
			return
		}
	}

	var note liveNotification
	if err := json.Unmarshal(envelope.Result, &note); err != nil || note.ID == "" {
		return
	}

	c.liveMu.Lock()
	ch, ok := c.live[note.ID]
	c.liveMu.Unlock()
	if !ok {
		return
	}

	var rec countRecord
	if err := json.Unmarshal(note.Result, &rec); err != nil {
		select {
		case ch <- LiveEvent{Err: fmt.Errorf("decode live notification: %w", err)}:
		default:
		}
		return
	}
	select {
	case ch <- LiveEvent{Update: CountUpdate{Count: rec.clamped()}}:
	default:
	}
}

func (c *Client) failAll(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- rpcEnvelope{ID: id, Error: &rpcError{Message: err.Error()}}
	}
	c.pendingMu.Unlock()

	c.liveMu.Lock()
	for id, ch := range c.live {
		select {
		case ch <- LiveEvent{Err: err}:
		default:
		}
		close(ch)
		delete(c.live, id)
	}
	c.live = make(map[string]chan LiveEvent)
	c.liveMu.Unlock()
}
