// Package broadcast implements the websocket layer that fans cached
// resource counts out to subscribed clients on an independent cadence from
// the burst aggregators that produce them.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yatesi-xyz/statserver/internal/config"
	"github.com/yatesi-xyz/statserver/internal/errs"
	"github.com/yatesi-xyz/statserver/internal/telemetry"
)

const (
	heartbeatInterval = 500 * time.Millisecond
	snapshotTimeout   = 500 * time.Millisecond
	shutdownTimeout   = 5 * time.Second

	// acceptRate/acceptBurst bound how fast the accept loop upgrades new
	// sessions, so a connection flood cannot starve existing sessions of
	// heartbeat ticks.
	acceptRate  = 50
	acceptBurst = 100
)

// Resources lists the cache keys read for each snapshot, in the snapshot
// payload's field order.
var Resources = []string{
	"total_emoji_count",
	"total_emojipack_count",
	"indexed_emoji_count",
	"indexed_emojipack_count",
}

type snapshotPayload struct {
	TotalEmojiCount       uint64 `json:"total_emoji_count"`
	TotalEmojipackCount   uint64 `json:"total_emojipack_count"`
	IndexedEmojiCount     uint64 `json:"indexed_emoji_count"`
	IndexedEmojipackCount uint64 `json:"indexed_emojipack_count"`
}

// CacheReader is the subset of the cache client the broadcaster depends on.
type CacheReader interface {
	MGet(ctx context.Context, keys ...string) []uint64
}

// Server accepts TCP connections, upgrades them to websocket, and runs one
// session per client until close, transport error, or shutdown.
type Server struct {
	cache   CacheReader
	logger  *zap.SugaredLogger
	metric  *telemetry.Metrics
	http    *http.Server
	limiter *rate.Limiter
}

// New constructs a broadcaster bound to cfg.Host:cfg.Port. logger/metric may
// be nil.
func New(cfg config.ServerConfig, cacheClient CacheReader, logger *zap.SugaredLogger, metric *telemetry.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		cache:   cacheClient,
		logger:  logger,
		metric:  metric,
		limiter: rate.NewLimiter(rate.Limit(acceptRate), acceptBurst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}
	return s
}

// Run listens and serves sessions until ctx is cancelled, then shuts down
// cooperatively: in-flight sends and reads are abandoned, not forced closed
// abruptly.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		err := s.http.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("broadcaster shutdown did not complete cleanly", "error", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		return err
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.metric.SessionOpened(r.Context())
	defer s.metric.SessionClosed(r.Context())

	if err := s.serve(r.Context(), conn); err != nil {
		s.logger.Debugw("session ended", "remote", r.RemoteAddr, "error", err)
	}
}

// serve runs one session's event loop: inbound frame reads are pumped into a
// channel by a background goroutine and merged with a heartbeat ticker via
// select, matching the per-resource aggregator's fan-in shape. Ping/Close
// control frames never reach this loop — coder/websocket answers pings with
// pongs and surfaces Close as a read error internally, so no explicit
// Ping-handling branch is needed here.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	frames := make(chan struct{})
	readErrs := make(chan error, 1)
	go s.readPump(ctx, conn, frames, readErrs)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErrs:
			return errs.New("broadcast", errs.CodeWebsocketTransport,
				errs.WithMessage("reading inbound frame"), errs.WithCause(err))

		case <-frames:
			if err := s.sendSnapshot(ctx, conn); err != nil {
				return err
			}

		case <-ticker.C:
			if err := s.sendSnapshot(ctx, conn); err != nil {
				return err
			}
		}
	}
}

// readPump reads inbound data frames and signals the session loop once per
// frame. It never inspects frame content: any non-control inbound frame
// triggers a snapshot, with no protocol vocabulary to parse.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, frames chan<- struct{}, errCh chan<- error) {
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		select {
		case frames <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) sendSnapshot(ctx context.Context, conn *websocket.Conn) error {
	mgetCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	values := s.cache.MGet(mgetCtx, Resources...)
	cancel()

	data, err := json.Marshal(snapshotPayload{
		TotalEmojiCount:       values[0],
		TotalEmojipackCount:   values[1],
		IndexedEmojiCount:     values[2],
		IndexedEmojipackCount: values[3],
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	writeCtx, writeCancel := context.WithTimeout(ctx, snapshotTimeout)
	defer writeCancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		s.metric.RecordSnapshot(ctx, telemetry.ResultError)
		return errs.New("broadcast", errs.CodeWebsocketTransport,
			errs.WithMessage("writing snapshot"), errs.WithCause(err))
	}

	s.metric.RecordSnapshot(ctx, telemetry.ResultOK)
	return nil
}
