// Stream client grounded on the teacher's provider/healthpoller.go
// background-loop/cancellation pattern (services/gateway), retargeted at a
// persistent gorilla/websocket connection instead of periodic HTTP probes,
// and the same bounded-retry shape as provider/pool.go's transport reuse.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	frameQueueSize   = 2048
	baseReconnectGap = 2 * time.Second
	maxReconnectGap  = 2 * time.Minute
)

// streamState tracks one venue's live stream connection.
type streamState struct {
	mu        sync.RWMutex
	conn      *websocket.Conn
	connected atomic.Bool
	frames    chan json.RawMessage

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *streamState) isConnected() bool { return s.connected.Load() }
func (s *streamState) queueDepth() int {
	if s == nil || s.frames == nil {
		return 0
	}
	return len(s.frames)
}

// Connect opens the venue's stream, subscribes to the listing/sale/price
// channels, and starts the read and dispatch loops plus the reconnect
// supervisor. Returns once the initial connection attempt completes (or
// fails — the reconnect loop takes over from there).
func (a *Adapter) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s := &streamState{frames: make(chan json.RawMessage, frameQueueSize), cancel: cancel, done: make(chan struct{})}

	a.mu.Lock()
	a.streaming = s
	a.mu.Unlock()

	go a.dispatchLoop(ctx, s)

	err := a.dial(ctx, s)
	go a.supervise(ctx, s)
	return err
}

func (a *Adapter) dial(ctx context.Context, s *streamState) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, a.cfg.StreamURL, nil)
	if err != nil {
		s.connected.Store(false)
		return fmt.Errorf("marketplace adapter %s: dial failed: %w", a.cfg.Name, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)

	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(2 * a.cfg.HeartbeatInterval))
		return nil
	})
	_ = conn.SetReadDeadline(time.Now().Add(2 * a.cfg.HeartbeatInterval))

	if err := a.subscribe(conn); err != nil {
		a.logger.Warn().Err(err).Msg("subscribe failed after connect")
	}

	go a.readLoop(ctx, s, conn)
	go a.heartbeatLoop(ctx, s, conn)

	a.logger.Info().Msg("stream connected")
	return nil
}

func (a *Adapter) subscribe(conn *websocket.Conn) error {
	msg := map[string]any{
		"type":     "subscribe",
		"channels": []string{"listing_update", "sale", "price_change", "volume_update"},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}

func (a *Adapter) readLoop(ctx context.Context, s *streamState, conn *websocket.Conn) {
	defer func() {
		s.connected.Store(false)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn().Err(err).Msg("stream read error, will reconnect")
			}
			return
		}
		select {
		case s.frames <- data:
		default:
			a.logger.Warn().Msg("inbound frame queue full, dropping frame")
		}
	}
}

func (a *Adapter) heartbeatLoop(ctx context.Context, s *streamState, conn *websocket.Conn) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.connected.Load() {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatchLoop drains s.frames and routes each parsed frame by its
// message-type to the configured handler (spec.md §4.F: "dispatch inbound
// frames by message-type to handlers listing_update, sale, price_change,
// volume_update").
func (a *Adapter) dispatchLoop(ctx context.Context, s *streamState) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-s.frames:
			if !ok {
				return
			}
			a.dispatchFrame(raw)
		}
	}
}

func (a *Adapter) dispatchFrame(raw json.RawMessage) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		a.logger.Warn().Err(err).Msg("malformed stream frame")
		return
	}

	switch envelope.Type {
	case "listing_update":
		if a.handlers.OnListingUpdate == nil {
			return
		}
		listing, err := ParseListing(envelope.Data, a.cfg.Name)
		if err != nil {
			a.logger.Warn().Err(err).Msg("malformed listing_update frame")
			return
		}
		a.handlers.OnListingUpdate(listing)
	case "sale":
		if a.handlers.OnSale == nil {
			return
		}
		var evt SaleEvent
		if err := json.Unmarshal(envelope.Data, &evt); err != nil {
			a.logger.Warn().Err(err).Msg("malformed sale frame")
			return
		}
		evt.VenueID = a.cfg.Name
		a.handlers.OnSale(evt)
	case "price_change":
		if a.handlers.OnPriceChange == nil {
			return
		}
		var evt PriceChangeEvent
		if err := json.Unmarshal(envelope.Data, &evt); err != nil {
			a.logger.Warn().Err(err).Msg("malformed price_change frame")
			return
		}
		evt.VenueID = a.cfg.Name
		a.handlers.OnPriceChange(evt)
	case "volume_update":
		if a.handlers.OnVolumeUpdate == nil {
			return
		}
		var evt VolumeUpdateEvent
		if err := json.Unmarshal(envelope.Data, &evt); err != nil {
			a.logger.Warn().Err(err).Msg("malformed volume_update frame")
			return
		}
		evt.VenueID = a.cfg.Name
		a.handlers.OnVolumeUpdate(evt)
	default:
		a.logger.Debug().Str("type", envelope.Type).Msg("ignoring unknown frame type")
	}
}

// supervise watches for disconnects and reconnects with bounded
// exponential backoff (spec.md §4.F: "reconnect with exponential backoff
// up to N attempts; on final failure emit a terminal event and stay
// offline").
func (a *Adapter) supervise(ctx context.Context, s *streamState) {
	defer close(s.done)
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Wait for the current connection to drop.
		for s.connected.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		if attempt > a.cfg.MaxReconnectAttempts {
			a.logger.Error().Int("attempts", attempt-1).Msg("stream reconnect attempts exhausted, staying offline")
			return
		}

		delay := backoffDelay(attempt)
		a.logger.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting to venue stream")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := a.dial(ctx, s); err != nil {
			a.logger.Error().Err(err).Int("attempt", attempt).Msg("stream reconnect failed")
			continue
		}
		attempt = 0
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectGap) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectGap) {
		delay = float64(maxReconnectGap)
	}
	return time.Duration(delay)
}

// Disconnect tears down the stream connection and stops the reconnect
// supervisor.
func (a *Adapter) Disconnect() {
	a.mu.RLock()
	s := a.streaming
	a.mu.RUnlock()
	if s == nil {
		return
	}
	s.cancel()
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}
}
