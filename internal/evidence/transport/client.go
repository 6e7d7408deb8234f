package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/slbailey/retrovue/internal/evidence"
	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/metrics"
)

// ClientConfig tunes the upstream evidence connection.
type ClientConfig struct {
	Target       string
	ReconnectMin time.Duration // default 500ms
	ReconnectMax time.Duration // default 30s
	QueueDepth   int           // default 256
	DialOptions  []grpc.DialOption
}

func (c *ClientConfig) applyDefaults() {
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 500 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
}

// Client streams one session's evidence upstream. On every (re)connect it
// sends HELLO, adopts the receiver's ack, replays unacked records from the
// spool, then forwards live records. It implements evidence.Sink.
type Client struct {
	cfg       ClientConfig
	channelID string
	sessionID string
	spool     *evidence.Spool
	logger    zerolog.Logger

	queue chan evidence.Envelope

	cancelSession context.CancelFunc
	cancelCh      chan context.CancelFunc
}

// NewClient builds a transport client for one playout session.
func NewClient(cfg ClientConfig, spool *evidence.Spool, channelID, sessionID string) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:       cfg,
		channelID: channelID,
		sessionID: sessionID,
		spool:     spool,
		logger: log.Derive(func(ctx *zerolog.Context) {
			*ctx = ctx.Str(log.FieldComponent, "evidence.transport").
				Str(log.FieldChannelID, channelID).
				Str(log.FieldSessionID, sessionID)
		}),
		queue:    make(chan evidence.Envelope, cfg.QueueDepth),
		cancelCh: make(chan context.CancelFunc, 1),
	}
	return c
}

// Enqueue hands a live record to the streaming loop. It never blocks: on
// overflow the record is dropped and the current stream is aborted, so the
// next session replays it from the spool.
func (c *Client) Enqueue(env evidence.Envelope) {
	select {
	case c.queue <- env:
	default:
		c.logger.Warn().Uint64("sequence", env.Sequence).Msg("transport queue full; forcing stream resync")
		c.abortSession()
	}
}

func (c *Client) abortSession() {
	select {
	case cancel := <-c.cancelCh:
		cancel()
	default:
	}
}

// Run drives the connect/replay/stream loop until ctx is cancelled,
// reconnecting with capped exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.ReconnectMin
	for {
		started := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.TransportReconnectTotal.WithLabelValues(c.channelID).Inc()
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("evidence stream ended; reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if time.Since(started) >= c.cfg.ReconnectMax {
			delay = c.cfg.ReconnectMin
		} else if delay *= 2; delay > c.cfg.ReconnectMax {
			delay = c.cfg.ReconnectMax
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Expose the cancel so Enqueue overflow can force a resync.
	c.abortSession()
	c.cancelCh <- cancel
	defer c.abortSession()

	conn, err := grpc.NewClient(c.cfg.Target, c.cfg.DialOptions...)
	if err != nil {
		return fmt.Errorf("dial evidence receiver: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stream, err := OpenStream(sctx, conn)
	if err != nil {
		return fmt.Errorf("open evidence stream: %w", err)
	}

	hello := Hello{
		ChannelID:              c.channelID,
		SessionID:              c.sessionID,
		FirstSequenceAvailable: 1,
		LastSequenceEmitted:    c.spool.LastSequence(),
	}
	if err := stream.Send(&ClientMessage{Hello: &hello}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	first, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("await hello ack: %w", err)
	}
	if first.Ack == nil {
		return errors.New("receiver sent no ack after hello")
	}
	if err := c.spool.UpdateAck(first.Ack.AckedSequence); err != nil {
		c.logger.Error().Err(err).Msg("persist receiver ack failed")
	}

	// Ack reader; a receive error tears down the session.
	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				cancel()
				return
			}
			if msg.Ack != nil {
				if err := c.spool.UpdateAck(msg.Ack.AckedSequence); err != nil {
					c.logger.Error().Err(err).Msg("persist receiver ack failed")
				}
			}
		}
	}()

	sent := c.spool.AckedSequence()
	replay, err := c.spool.ReplayFrom(sent)
	if err != nil {
		return fmt.Errorf("replay spool: %w", err)
	}
	if len(replay) > 0 {
		c.logger.Info().
			Uint64("from_sequence", replay[0].Sequence).
			Int("count", len(replay)).
			Msg("replaying unacked evidence")
	}
	for i := range replay {
		if err := stream.Send(&ClientMessage{Record: &replay[i]}); err != nil {
			return fmt.Errorf("send replay record: %w", err)
		}
		sent = replay[i].Sequence
	}

	for {
		select {
		case <-sctx.Done():
			return sctx.Err()
		case env := <-c.queue:
			if env.Sequence <= sent {
				continue // already covered by replay
			}
			if env.Sequence != sent+1 {
				// A dropped queue record left a gap; reconnect and let the
				// spool replay close it.
				return fmt.Errorf("live record gap after %d (got %d)", sent, env.Sequence)
			}
			if err := stream.Send(&ClientMessage{Record: &env}); err != nil {
				return fmt.Errorf("send record: %w", err)
			}
			sent = env.Sequence
		}
	}
}
