package feed

import (
	"context"
	"sync"

	"main/internal/schema"
	"main/internal/universe"

	shopspring "github.com/shopspring/decimal"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"
)

// LiveSource mirrors an upstream quote websocket into the universe. Prices
// arrive asynchronously; Snapshot serves whatever the stream delivered last.
// When the stream is down the previous snapshot is re-served together with
// ErrUnavailable.
type LiveSource struct {
	mu       sync.Mutex
	wss      *ws.WebSocket
	universe *universe.Universe
	macro    schema.MacroSignal
	healthy  bool
}

// NewLiveSource dials the quote stream endpoint.
func NewLiveSource(ctx context.Context, url string, u *universe.Universe, macro schema.MacroSignal) *LiveSource {
	if macro.Volatility < volatilityFloor {
		macro.Volatility = volatilityFloor
	}
	return &LiveSource{
		wss:      ws.New(ctx, url),
		universe: u,
		macro:    macro,
	}
}

// Start opens the connection and begins consuming quotes.
func (s *LiveSource) Start(ctx context.Context) error {
	if err := s.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start quote stream")
	}
	s.setHealthy(true)
	s.observe(ctx)
	return nil
}

// Close tears down the websocket.
func (s *LiveSource) Close() {
	s.setHealthy(false)
	s.wss.Close()
}

type quoteSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type quoteSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// Subscribe registers the given instruments on the quote stream.
func (s *LiveSource) Subscribe(ctx context.Context, instrumentIDs []string) error {
	appendIntoRegister := true
	if err := s.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := quoteSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: instrumentIDs,
				ID:     1,
			}
			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp quoteSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

type quotePayload struct {
	EventType    string          `json:"e"`
	InstrumentID string          `json:"s"`
	Price        decimal.Decimal `json:"p"`
	Volatility   float64         `json:"v"`
	Rate         float64         `json:"r"`
}

func (s *LiveSource) observe(ctx context.Context) {
	ch, cancel := s.wss.Subscribe()

	go func() {
		defer cancel()
		defer s.setHealthy(false)
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				quote, ok := ws.ReadMessage[quotePayload](m)
				if !ok {
					continue
				}
				s.apply(quote)
			}
		}
	}()
}

func (s *LiveSource) apply(quote quotePayload) {
	switch quote.EventType {
	case "quote":
		price, err := shopspring.NewFromString(quote.Price.String())
		if err != nil {
			logs.Errorf("parse quote price: %v", err)
			return
		}
		if !s.universe.SetPrice(quote.InstrumentID, price) {
			logs.Infof("quote for unknown instrument dropped: %s", quote.InstrumentID)
		}
	case "macro":
		volatility := quote.Volatility
		if volatility < volatilityFloor {
			volatility = volatilityFloor
		}
		s.mu.Lock()
		s.macro = schema.MacroSignal{Volatility: volatility, Rate: quote.Rate}
		s.mu.Unlock()
	}
}

// Snapshot returns the latest mirrored state. A dead stream yields the
// previous snapshot and ErrUnavailable.
func (s *LiveSource) Snapshot(_ context.Context) (Tick, error) {
	s.mu.Lock()
	macro := s.macro
	healthy := s.healthy
	s.mu.Unlock()

	tick := Tick{
		Instruments: s.universe.Snapshot(),
		Macro:       macro,
	}
	if !healthy {
		return tick, ErrUnavailable
	}
	return tick, nil
}

func (s *LiveSource) setHealthy(healthy bool) {
	s.mu.Lock()
	s.healthy = healthy
	s.mu.Unlock()
}
