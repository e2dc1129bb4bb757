// Package gateway exposes the analysis pipeline over REST and pushes periodic
// market updates to WebSocket subscribers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"marketscope/internal/logger"
	"marketscope/internal/model"
)

// Analyzer is the pipeline surface the gateway serves.
type Analyzer interface {
	Indicators(ctx context.Context, symbol string, tf model.Timeframe) (model.IndicatorSnapshot, error)
	Trend(ctx context.Context, symbol string, tf model.Timeframe) (model.TrendAnalysis, error)
	Signal(ctx context.Context, symbol string, tf model.Timeframe) (model.TradingSignal, error)
	MultiTimeframe(ctx context.Context, symbol string, tfs []model.Timeframe) (model.ConsensusView, error)
	MultiSignals(ctx context.Context, symbol string, tfs []model.Timeframe) ([]model.TradingSignal, error)
	Quote(ctx context.Context, symbol string) (model.Quote, error)
	History(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error)
}

// DefaultTimeframe is used when a request has no timeframe parameter.
const DefaultTimeframe = model.TF1h

const apiPrefix = "/api/v1"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the REST and WebSocket routes on mux. A nil health
// handler serves a static {"status":"healthy"}.
func RegisterRoutes(mux *http.ServeMux, svc Analyzer, hub *Hub, health http.Handler) {
	mux.HandleFunc("/api/v1/market/quote/{symbol}", get(func(w http.ResponseWriter, r *http.Request) {
		q, err := svc.Quote(r.Context(), r.PathValue("symbol"))
		respond(w, q, err)
	}))

	mux.HandleFunc("/api/v1/market/history/{symbol}", get(func(w http.ResponseWriter, r *http.Request) {
		tf, err := timeframeParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		start, end, err := rangeParams(r)
		if err != nil {
			writeError(w, err)
			return
		}
		bars, err := svc.History(r.Context(), r.PathValue("symbol"), tf)
		respond(w, filterBars(bars, start, end), err)
	}))

	mux.HandleFunc("/api/v1/market/indicators/{symbol}", get(func(w http.ResponseWriter, r *http.Request) {
		tf, err := timeframeParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		snap, err := svc.Indicators(r.Context(), r.PathValue("symbol"), tf)
		respond(w, snap, err)
	}))

	mux.HandleFunc("/api/v1/market/trend/{symbol}", get(func(w http.ResponseWriter, r *http.Request) {
		tf, err := timeframeParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		tr, err := svc.Trend(r.Context(), r.PathValue("symbol"), tf)
		respond(w, tr, err)
	}))

	mux.HandleFunc("/api/v1/market/multi-timeframe/{symbol}", get(func(w http.ResponseWriter, r *http.Request) {
		tfs, err := timeframesParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		view, err := svc.MultiTimeframe(r.Context(), r.PathValue("symbol"), tfs)
		respond(w, view, err)
	}))

	mux.HandleFunc("/api/v1/signals/multi/{symbol}", get(func(w http.ResponseWriter, r *http.Request) {
		tfs, err := timeframesParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		sigs, err := svc.MultiSignals(r.Context(), r.PathValue("symbol"), tfs)
		respond(w, sigs, err)
	}))

	mux.HandleFunc("/api/v1/signals/{symbol}", get(func(w http.ResponseWriter, r *http.Request) {
		tf, err := timeframeParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		sig, err := svc.Signal(r.Context(), r.PathValue("symbol"), tf)
		respond(w, sig, err)
	}))

	mux.HandleFunc("/api/v1/timeframes", get(func(w http.ResponseWriter, r *http.Request) {
		out := make([]TimeframeInfo, 0, len(model.AllTimeframes))
		for _, tf := range model.AllTimeframes {
			spec := tf.Spec()
			out = append(out, TimeframeInfo{
				Label:            spec.Label,
				Seconds:          int64(spec.Interval / time.Second),
				ProviderInterval: spec.ProviderInterval,
				Lookback:         spec.Lookback,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}))

	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})
	}
	mux.Handle("/health", health)

	mux.HandleFunc("/{$}", get(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":   "marketscope",
			"status": "running",
			"endpoints": map[string]string{
				"market_data":      apiPrefix + "/market",
				"signals":          apiPrefix + "/signals",
				"timeframes":       apiPrefix + "/timeframes",
				"websocket_market": "/ws/market/{symbol}",
			},
		})
	}))

	if hub != nil {
		mux.HandleFunc("/ws/market/{symbol}", func(w http.ResponseWriter, r *http.Request) {
			symbol := r.PathValue("symbol")
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				log.Printf("[gateway] ws upgrade error: %v", err)
				return
			}
			c := newClient(hub, conn, symbol)
			hub.Subscribe(c)
			go c.writePump()
			go c.readPump()
		})
	}
}

// Traced stores a trace ID in each request context, taken from the
// X-Request-ID header or generated, and echoes it in the response.
func Traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logger.GenerateTraceID("http", time.Now())
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), id)))
	})
}

// get wraps a read-only handler with CORS, preflight and method checks.
func get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			h(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		default:
			w.Header().Set("Allow", "GET, OPTIONS")
			writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed", Detail: r.Method})
		}
	}
}

func timeframeParam(r *http.Request) (model.Timeframe, error) {
	v := r.URL.Query().Get("timeframe")
	if v == "" {
		return DefaultTimeframe, nil
	}
	return model.ParseTimeframe(v)
}

// timeframesParam accepts repeated and comma-separated values:
// ?timeframes=15m&timeframes=1h or ?timeframes=15m,1h.
func timeframesParam(r *http.Request) ([]model.Timeframe, error) {
	var names []string
	for _, v := range r.URL.Query()["timeframes"] {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	return model.ParseTimeframes(names)
}

// errBadRequest marks malformed query parameters other than timeframes.
var errBadRequest = errors.New("bad request")

func rangeParams(r *http.Request) (start, end time.Time, err error) {
	parse := func(key string) (time.Time, error) {
		v := r.URL.Query().Get(key)
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, errors.Join(errBadRequest, err)
		}
		return t, nil
	}
	if start, err = parse("start"); err != nil {
		return
	}
	end, err = parse("end")
	return
}

// filterBars keeps bars with start <= TS <= end; zero bounds are open.
func filterBars(bars []model.Bar, start, end time.Time) []model.Bar {
	if start.IsZero() && end.IsZero() {
		return bars
	}
	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.TS.Before(start) {
			continue
		}
		if !end.IsZero() && b.TS.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	switch model.KindOf(err) {
	case model.KindNone:
		return http.StatusOK
	case model.KindInvalidTimeframe:
		return http.StatusBadRequest
	case model.KindInsufficientData:
		return http.StatusUnprocessableEntity
	case model.KindUpstreamFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := string(model.KindOf(err))
	if errors.Is(err, errBadRequest) {
		kind = "bad_request"
	}
	writeJSON(w, StatusFor(err), ErrorResponse{Error: kind, Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] encode response: %v", err)
	}
}
