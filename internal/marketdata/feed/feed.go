// Package feed streams hourly klines from a Binance-style combined websocket
// stream and hands closed candles to the live engine through an SPSC ring
// buffer.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ema-traderv1/internal/metrics"
	"ema-traderv1/internal/model"
	"ema-traderv1/internal/ringbuf"
)

const (
	handshakeTimeout = 10 * time.Second
	readDeadline     = 30 * time.Second
	pingInterval     = 15 * time.Second
	writeDeadline    = 5 * time.Second

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Config configures the kline feed.
type Config struct {
	URL    string // base websocket URL, e.g. "wss://stream.binance.com:9443"
	Symbol string // exchange symbol, e.g. "ETHUSDT"
	Pair   string // canonical pair name stamped on emitted candles
}

// Feed consumes the hourly kline stream for one symbol. Only closed klines
// are emitted; forming updates are dropped.
type Feed struct {
	cfg Config
	met *metrics.Metrics // optional

	// OnStateChange is called with true on connect and false on disconnect.
	OnStateChange func(connected bool)
}

// New creates a feed. met may be nil.
func New(cfg Config, met *metrics.Metrics) *Feed {
	return &Feed{cfg: cfg, met: met}
}

// Run connects and pushes closed candles into ring until ctx is cancelled.
// Reconnects with exponential backoff on any stream error.
func (f *Feed) Run(ctx context.Context, ring *ringbuf.Ring) error {
	stream := strings.ToLower(f.cfg.Symbol) + "@kline_1h"
	url := fmt.Sprintf("%s/stream?streams=%s", f.cfg.URL, stream)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.consume(ctx, url, ring)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[feed] disconnected: %v, retrying in %v", err, backoff)
		if f.met != nil {
			f.met.FeedReconnect.Inc()
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (f *Feed) consume(ctx context.Context, url string, ring *ringbuf.Ring) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	log.Printf("[feed] connected %s (%s)", f.cfg.Symbol, url)
	f.setConnected(true)
	defer f.setConnected(false)

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Printf("[feed] ping failed: %v", err)
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		candle, closed, err := f.parseKline(message)
		if err != nil {
			log.Printf("[feed] parse error: %v", err)
			continue
		}
		if !closed {
			continue
		}

		if !ring.Push(candle) {
			log.Printf("[feed] ring full, dropped candle ts=%s", candle.TS.Format(time.RFC3339))
			continue
		}
		if f.met != nil {
			f.met.FeedCandles.Inc()
		}
	}
}

func (f *Feed) setConnected(v bool) {
	if f.OnStateChange != nil {
		f.OnStateChange(v)
	}
}

type klineEnvelope struct {
	Stream string    `json:"stream"`
	Data   klineData `json:"data"`
}

type klineData struct {
	Symbol string  `json:"s"`
	Kline  klineV1 `json:"k"`
}

type klineV1 struct {
	OpenTime int64 `json:"t"`
	// CloseTime must be declared so the case-insensitive JSON matcher does
	// not route the "T" key into OpenTime and overwrite it.
	CloseTime int64  `json:"T"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

// parseKline decodes one combined-stream message. The second return value
// reports whether the kline is closed.
func (f *Feed) parseKline(message []byte) (model.Candle, bool, error) {
	var env klineEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return model.Candle{}, false, fmt.Errorf("decode: %w", err)
	}
	k := env.Data.Kline
	if k.OpenTime == 0 {
		return model.Candle{}, false, fmt.Errorf("not a kline message (stream=%q)", env.Stream)
	}

	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return model.Candle{}, false, fmt.Errorf("open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return model.Candle{}, false, fmt.Errorf("high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return model.Candle{}, false, fmt.Errorf("low %q: %w", k.Low, err)
	}
	closePx, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return model.Candle{}, false, fmt.Errorf("close %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return model.Candle{}, false, fmt.Errorf("volume %q: %w", k.Volume, err)
	}

	return model.Candle{
		Pair:   f.cfg.Pair,
		TS:     time.Unix(0, k.OpenTime*int64(time.Millisecond)).UTC(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePx,
		Volume: volume,
	}, k.Closed, nil
}
