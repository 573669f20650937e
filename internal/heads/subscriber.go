package heads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Subscriber maintains a newHeads subscription and republishes heads.
type Subscriber struct {
	cfg    Config
	logger *slog.Logger

	heads     chan Head
	connected atomic.Bool
	latest    atomic.Uint64
	nextID    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubscriber creates a subscriber. Zero config fields take defaults.
func NewSubscriber(cfg Config, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = def.SubscribeTimeout
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = def.ReconnectMaxWait
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &Subscriber{
		cfg:    cfg,
		logger: logger,
		heads:  make(chan Head, cfg.BufferSize),
	}
}

// Heads returns new heads. When the reader falls behind the oldest heads are
// dropped.
func (s *Subscriber) Heads() <-chan Head {
	return s.heads
}

// Connected reports whether a subscription is live.
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// Latest returns the highest block number seen, 0 if none.
func (s *Subscriber) Latest() uint64 {
	return s.latest.Load()
}

// Start connects in the background and keeps reconnecting until Stop.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.cfg.URL == "" {
		return fmt.Errorf("heads: url is required")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("heads subscriber started", "url", s.cfg.URL)
	return nil
}

// Stop closes the connection and waits for the background loop.
func (s *Subscriber) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("heads subscriber stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run connects, subscribes and forwards heads, reconnecting with exponential
// backoff when the connection drops.
func (s *Subscriber) run() {
	defer s.wg.Done()

	wait := s.cfg.ReconnectBaseWait
	for {
		err := s.session()
		s.connected.Store(false)
		if s.ctx.Err() != nil {
			return
		}

		if err == nil {
			wait = s.cfg.ReconnectBaseWait
		}
		s.logger.Warn("heads subscription lost, reconnecting", "err", err, "wait", wait)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}

		wait *= 2
		if wait > s.cfg.ReconnectMaxWait {
			wait = s.cfg.ReconnectMaxWait
		}
	}
}

// session runs one connection until it fails. A nil error means the session
// had subscribed successfully before ending.
func (s *Subscriber) session() error {
	c, err := dial(s.ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer c.close()

	subID, err := s.subscribe(c)
	if err != nil {
		return err
	}

	s.connected.Store(true)
	s.logger.Info("subscribed to new heads", "subscription", subID)

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-c.errors:
			s.logger.Debug("heads connection error", "err", err)
			return nil
		case data := <-c.frames:
			h, ok, err := parseHead(data, subID)
			if err != nil {
				s.logger.Debug("ignoring malformed head", "err", err)
				continue
			}
			if ok {
				s.publish(h)
			}
		}
	}
}

func (s *Subscriber) subscribe(c *conn) (string, error) {
	id := s.nextID.Add(1)
	if err := c.send(request{JSONRPC: "2.0", ID: id, Method: "eth_subscribe", Params: []any{"newHeads"}}); err != nil {
		return "", fmt.Errorf("send eth_subscribe: %w", err)
	}

	timer := time.NewTimer(s.cfg.SubscribeTimeout)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-timer.C:
			return "", fmt.Errorf("eth_subscribe: no response after %s", s.cfg.SubscribeTimeout)
		case err := <-c.errors:
			return "", fmt.Errorf("eth_subscribe: %w", err)
		case data := <-c.frames:
			var msg message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.ID == nil || *msg.ID != id {
				continue
			}
			if msg.Error != nil {
				return "", fmt.Errorf("eth_subscribe: %s (code %d)", msg.Error.Message, msg.Error.Code)
			}
			var subID string
			if err := json.Unmarshal(msg.Result, &subID); err != nil {
				return "", fmt.Errorf("eth_subscribe: decode subscription id: %w", err)
			}
			return subID, nil
		}
	}
}

// parseHead decodes a newHeads notification for subID. ok is false for
// frames that are not one.
func parseHead(data []byte, subID string) (Head, bool, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Head{}, false, fmt.Errorf("unmarshal frame: %w", err)
	}
	if msg.Method != "eth_subscription" || msg.Params == nil || msg.Params.Subscription != subID {
		return Head{}, false, nil
	}

	var h header
	if err := json.Unmarshal(msg.Params.Result, &h); err != nil {
		return Head{}, false, fmt.Errorf("unmarshal header: %w", err)
	}
	if h.Number == nil {
		return Head{}, false, fmt.Errorf("header without number")
	}
	return Head{
		Number:     h.Number.ToInt().Uint64(),
		Hash:       h.Hash,
		Time:       uint64(h.Timestamp),
		ReceivedAt: time.Now(),
	}, true, nil
}

func (s *Subscriber) publish(h Head) {
	for {
		cur := s.latest.Load()
		if h.Number <= cur || s.latest.CompareAndSwap(cur, h.Number) {
			break
		}
	}

	select {
	case s.heads <- h:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-s.heads:
		default:
		}
		select {
		case s.heads <- h:
		default:
		}
	}
}
