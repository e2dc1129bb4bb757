package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"marketscope/internal/metrics"
	"marketscope/internal/model"
)

// HubConfig configures the WebSocket hub.
type HubConfig struct {
	Interval  time.Duration   // time between market_update pushes, default 60s
	Timeframe model.Timeframe // timeframe of the pushed indicators and trend, default 1h
	Metrics   *metrics.Metrics
}

// Hub groups WebSocket clients by channel ("market:{symbol}"). Each channel
// has one broadcaster goroutine, started with its first subscriber and
// cancelled when the last one leaves.
type Hub struct {
	svc      Analyzer
	interval time.Duration
	tf       model.Timeframe
	metrics  *metrics.Metrics

	mu       sync.Mutex
	channels map[string]*channel
	wg       sync.WaitGroup
}

type channel struct {
	name    string
	symbol  string
	clients map[*Client]bool
	cancel  context.CancelFunc
}

// NewHub creates a Hub that builds updates from svc.
func NewHub(svc Analyzer, cfg HubConfig) *Hub {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if !cfg.Timeframe.Valid() {
		cfg.Timeframe = model.TF1h
	}
	return &Hub{
		svc:      svc,
		interval: cfg.Interval,
		tf:       cfg.Timeframe,
		metrics:  cfg.Metrics,
		channels: make(map[string]*channel),
	}
}

// ChannelName returns the channel a symbol's subscribers join.
func ChannelName(symbol string) string { return "market:" + symbol }

// Subscribe adds c to its channel, starting the channel's broadcaster if c is
// the first subscriber.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	ch, ok := h.channels[c.channel]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		ch = &channel{name: c.channel, symbol: c.symbol, clients: make(map[*Client]bool), cancel: cancel}
		h.channels[c.channel] = ch
		h.wg.Add(1)
		go h.runBroadcaster(ctx, ch)
		log.Printf("[gateway] broadcaster started for %s", c.channel)
	}
	ch.clients[c] = true
	n := len(ch.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Inc()
	}
	log.Printf("[gateway] ws client joined %s (%d in channel)", c.channel, n)
}

// Unsubscribe removes c and closes its send queue. Removing the last client
// cancels the channel's broadcaster. Calling it twice is a no-op.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	ch, ok := h.channels[c.channel]
	if !ok || !ch.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(ch.clients, c)
	close(c.send)
	last := len(ch.clients) == 0
	if last {
		ch.cancel()
		delete(h.channels, c.channel)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Dec()
	}
	if last {
		log.Printf("[gateway] last client left %s, broadcaster stopped", c.channel)
	}
}

// Broadcast queues msg for every client of the named channel. A client whose
// queue is full is dropped; the others still receive the message.
func (h *Hub) Broadcast(name string, msg []byte) int {
	h.mu.Lock()
	ch := h.channels[name]
	h.mu.Unlock()
	if ch == nil {
		return 0
	}
	return h.deliver(ch, msg)
}

// deliver sends msg to the clients of ch. A channel already removed from the
// hub has no clients left, so a late update from its broadcaster goes nowhere.
func (h *Hub) deliver(ch *channel, msg []byte) int {
	var dropped []*Client
	delivered := 0

	h.mu.Lock()
	for c := range ch.clients {
		select {
		case c.send <- msg:
			delivered++
		default:
			dropped = append(dropped, c)
		}
	}
	h.mu.Unlock()

	for _, c := range dropped {
		log.Printf("[gateway] dropping slow ws client on %s", ch.name)
		h.Unsubscribe(c)
		if h.metrics != nil {
			h.metrics.WSDeliveryDrops.Inc()
		}
	}
	return delivered
}

// ChannelCount returns the number of channels with at least one client.
func (h *Hub) ChannelCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

// ClientCount returns the number of connected clients across channels.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ch := range h.channels {
		n += len(ch.clients)
	}
	return n
}

// Shutdown disconnects every client and waits for the broadcasters to exit.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var clients []*Client
	for _, ch := range h.channels {
		for c := range ch.clients {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unsubscribe(c)
	}
	h.wg.Wait()
}
