package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"marketpipe/internal/domain"
	"marketpipe/internal/event"
	"marketpipe/internal/infra"
)

const (
	baseDelay   = 1 * time.Second
	maxDelay    = 60 * time.Second
	readTimeout = 60 * time.Second
	maxRetries  = 10
)

// Submitter hands parsed events to the pipeline.
type Submitter func(domain.Event) error

// Worker handles the Binance futures combined-stream WebSocket connection.
// It parses aggTrade and depth messages into domain events and submits them
// in the order they arrive. Delivery is best-effort: downstream validation
// handles duplicates and reordering.
type Worker struct {
	wsURL   string
	symbols []string
	streams []string
	submit  Submitter

	conn      *websocket.Conn
	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewWorker creates a feed worker. streams name the per-symbol channels to
// subscribe ("aggTrade", "depth").
func NewWorker(wsURL string, symbols, streams []string, submit Submitter) *Worker {
	return &Worker{
		wsURL:   wsURL,
		symbols: symbols,
		streams: streams,
		submit:  submit,
		logger:  slog.Default().With("module", "binance_worker"),
	}
}

// Connect starts the connection loop.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// Disconnect stops the worker and waits for the loop to exit.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

// IsConnected reports whether the socket is currently up.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			delay := infra.CalculateBackoff(retryCount, baseDelay, maxDelay)
			w.logger.Warn("connection failed",
				slog.Any("error", err), slog.Int("retry", retryCount), slog.Duration("delay", delay))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

// streamURL builds the combined-stream endpoint:
// wss://host/stream?streams=btcusdt@aggTrade/btcusdt@depth
func (w *Worker) streamURL() string {
	names := make([]string, 0, len(w.symbols)*len(w.streams))
	for _, sym := range w.symbols {
		for _, st := range w.streams {
			names = append(names, strings.ToLower(sym)+"@"+st)
		}
	}
	return w.wsURL + "?streams=" + strings.Join(names, "/")
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections()

	w.logger.Info("connected",
		slog.Int("symbols", len(w.symbols)), slog.Any("streams", w.streams))
	return nil
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	if w.connected {
		w.connected = false
		infra.GlobalMetrics.DecrementConnections()
	}
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.logger.Warn("read failed", slog.Any("error", err))
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var envelope combinedStreamMessage
	if err := json.Unmarshal(msg, &envelope); err != nil || len(envelope.Data) == 0 {
		return
	}

	switch {
	case strings.Contains(envelope.Stream, "@aggTrade"):
		w.handleAggTrade(envelope.Data)
	case strings.Contains(envelope.Stream, "@depth"):
		w.handleDepth(envelope.Data)
	}
}

func (w *Worker) handleAggTrade(data json.RawMessage) {
	var m aggTradeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		w.logger.Debug("bad aggTrade payload", slog.Any("error", err))
		return
	}

	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return
	}
	qty, err := decimal.NewFromString(m.Quantity)
	if err != nil {
		return
	}

	// A buyer-maker trade means the taker sold into the bid.
	side := domain.SideBuy
	if m.IsBuyerMaker {
		side = domain.SideSell
	}

	t := event.AcquireTrade()
	t.ID = m.AggTradeID
	t.Symbol = m.Symbol
	t.Price = price
	t.Quantity = qty
	t.Side = side
	t.Timestamp = m.TradeTime
	t.Sequence = uint64(m.AggTradeID)

	if err := w.submit(t); err != nil {
		event.ReleaseTrade(t)
		w.logger.Debug("submit rejected", slog.String("symbol", m.Symbol), slog.Any("error", err))
	}
}

func (w *Worker) handleDepth(data json.RawMessage) {
	var m depthMessage
	if err := json.Unmarshal(data, &m); err != nil {
		w.logger.Debug("bad depth payload", slog.Any("error", err))
		return
	}

	ob := event.AcquireOrderBook()
	ob.Symbol = m.Symbol
	ob.Timestamp = m.EventTime
	ob.Sequence = uint64(m.FinalUpdateID)

	var err error
	if ob.Bids, err = appendLevels(ob.Bids, m.Bids); err != nil {
		event.ReleaseOrderBook(ob)
		return
	}
	if ob.Asks, err = appendLevels(ob.Asks, m.Asks); err != nil {
		event.ReleaseOrderBook(ob)
		return
	}

	if err := w.submit(ob); err != nil {
		event.ReleaseOrderBook(ob)
		w.logger.Debug("submit rejected", slog.String("symbol", m.Symbol), slog.Any("error", err))
	}
}

func appendLevels(dst []domain.PriceLevel, raw [][]string) ([]domain.PriceLevel, error) {
	for _, pair := range raw {
		if len(pair) < 2 {
			return dst, fmt.Errorf("short level: %v", pair)
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return dst, err
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return dst, err
		}
		dst = append(dst, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return dst, nil
}
