package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livego"

// Recorder owns a Prometheus registry and the collectors for HTTP traffic,
// the gift economy, stream lifecycle hooks, room fan-out and the boundary
// guard. Each Recorder has its own registry so tests can assert on isolated
// values.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	gifts         *prometheus.CounterVec
	giftDiamonds  *prometheus.CounterVec
	purchases     *prometheus.CounterVec
	withdrawals   prometheus.Counter
	economyErrors *prometheus.CounterVec

	hooks       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	liveStreams prometheus.Gauge
	liveCount   atomic.Int64
	viewers     prometheus.Gauge

	roomClients   prometheus.Gauge
	roomEvents    *prometheus.CounterVec
	droppedEvents *prometheus.CounterVec

	rateLimited *prometheus.CounterVec
	sanitized   prometheus.Counter
}

var defaultRecorder = New()

// New builds a Recorder with a fresh registry that also exposes the Go
// runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, normalised path and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		gifts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gifts_sent_total",
			Help: "Gift units sent, by source (diamonds or inventory).",
		}, []string{"source"}),
		giftDiamonds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gift_diamonds_total",
			Help: "Diamond value of sent gifts, by source.",
		}, []string{"source"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "diamond_purchases_total",
			Help: "Diamond purchases by outcome.",
		}, []string{"outcome"}),
		withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "withdrawal_requests_total",
			Help: "Withdrawal requests recorded as pending.",
		}),
		economyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "economy_errors_total",
			Help: "Rejected economy operations by operation and error kind.",
		}, []string{"operation", "kind"}),
		hooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "srs_hooks_total",
			Help: "Media server callbacks received, by action.",
		}, []string{"action"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_transitions_total",
			Help: "Stream live-state transitions (start or stop).",
		}, []string{"event"}),
		liveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_streams",
			Help: "Streams that went live through this instance and have not stopped.",
		}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stream_viewers",
			Help: "Players currently attached according to play/stop callbacks.",
		}),
		roomClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "room_clients",
			Help: "Connected websocket clients.",
		}),
		roomEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "room_events_total",
			Help: "Events published to rooms, by event name.",
		}, []string{"event"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "room_events_dropped_total",
			Help: "Deliveries skipped because a client buffer was full.",
		}, []string{"event"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter, by scope.",
		}, []string{"scope"}),
		sanitized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sanitizer_rejections_total",
			Help: "Requests rejected for forbidden characters.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests, r.requestDuration,
		r.gifts, r.giftDiamonds, r.purchases, r.withdrawals, r.economyErrors,
		r.hooks, r.transitions, r.liveStreams, r.viewers,
		r.roomClients, r.roomEvents, r.droppedEvents,
		r.rateLimited, r.sanitized,
	)
	return r
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	return defaultRecorder
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveRequest records one HTTP request. Identifier-looking path segments
// are collapsed to ":id" to bound label cardinality.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	path = normalizePath(path)
	r.requests.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (r *Recorder) GiftSent(source string, quantity, diamonds int64) {
	source = normalizeName(source)
	r.gifts.WithLabelValues(source).Add(float64(quantity))
	r.giftDiamonds.WithLabelValues(source).Add(float64(diamonds))
}

// PurchaseRecorded counts a purchase outcome: completed, initiated or cancelled.
func (r *Recorder) PurchaseRecorded(outcome string) {
	r.purchases.WithLabelValues(normalizeName(outcome)).Inc()
}

func (r *Recorder) WithdrawalRequested() {
	r.withdrawals.Inc()
}

func (r *Recorder) EconomyRejected(operation, kind string) {
	r.economyErrors.WithLabelValues(normalizeName(operation), normalizeName(kind)).Inc()
}

func (r *Recorder) HookReceived(action string) {
	r.hooks.WithLabelValues(normalizeName(action)).Inc()
}

func (r *Recorder) StreamStarted() {
	r.transitions.WithLabelValues("start").Inc()
	r.liveStreams.Set(float64(r.liveCount.Add(1)))
}

// StreamStopped never drives the live gauge below zero; a stream that was
// already live when the process started can still be stopped.
func (r *Recorder) StreamStopped() {
	r.transitions.WithLabelValues("stop").Inc()
	for {
		current := r.liveCount.Load()
		if current <= 0 {
			break
		}
		if r.liveCount.CompareAndSwap(current, current-1) {
			break
		}
	}
	r.liveStreams.Set(float64(r.liveCount.Load()))
}

func (r *Recorder) LiveStreams() int64 {
	return r.liveCount.Load()
}

// SetViewers reports the total number of attached players.
func (r *Recorder) SetViewers(total int) {
	r.viewers.Set(float64(total))
}

func (r *Recorder) ClientConnected() {
	r.roomClients.Inc()
}

func (r *Recorder) ClientDisconnected() {
	r.roomClients.Dec()
}

func (r *Recorder) EventPublished(event string) {
	r.roomEvents.WithLabelValues(normalizeName(event)).Inc()
}

func (r *Recorder) EventDropped(event string) {
	r.droppedEvents.WithLabelValues(normalizeName(event)).Inc()
}

// RateLimited counts a rejection; scope is "http", "srs_hook" or "chat".
func (r *Recorder) RateLimited(scope string) {
	r.rateLimited.WithLabelValues(normalizeName(scope)).Inc()
}

func (r *Recorder) SanitizerRejected() {
	r.sanitized.Inc()
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// looksLikeIdentifier treats long segments and digit-heavy segments as ids.
// Known route words such as "send-backpack" and "withdraw" stay intact.
func looksLikeIdentifier(segment string) bool {
	if _, ok := routeWords[segment]; ok {
		return false
	}
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

var routeWords = map[string]struct{}{
	"send-backpack": {},
	"calculate":     {},
	"purchase":      {},
	"purchases":     {},
	"withdraw":      {},
	"on_connect":    {},
	"on_close":      {},
	"on_record":     {},
	"on_publish":    {},
	"on_unpublish":  {},
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
