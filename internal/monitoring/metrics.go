package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Catalog metrics
	AgentsCreated   prometheus.Counter
	AgentsPublished prometheus.Counter
	APICallsTotal   prometheus.Counter

	// Review and trust metrics
	ReviewsTotal         *prometheus.CounterVec
	RatingRecomputations prometheus.Counter
	TrustRecomputations  *prometheus.CounterVec

	// Ledger metrics
	TransactionsTotal   *prometheus.CounterVec
	PlatformFeesTotal   prometheus.Counter
	SellerEarningsTotal prometheus.Counter

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

var (
	metrics  *Metrics
	initOnce sync.Once
)

// Init initializes all Prometheus metrics on the default registry
func Init() *Metrics {
	initOnce.Do(func() {
		metrics = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return metrics
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		AgentsCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "agents_created_total",
				Help: "Total number of agents created",
			},
		),
		AgentsPublished: f.NewCounter(
			prometheus.CounterOpts{
				Name: "agents_published_total",
				Help: "Total number of agents published",
			},
		),
		APICallsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_api_calls_total",
				Help: "Total number of agent API calls reported",
			},
		),

		ReviewsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviews_total",
				Help: "Total number of review mutations",
			},
			[]string{"action"},
		),
		RatingRecomputations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_rating_recomputations_total",
				Help: "Total number of agent rating aggregations",
			},
		),
		TrustRecomputations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trust_score_recomputations_total",
				Help: "Total number of persisted trust score recomputations",
			},
			[]string{"user_type"},
		),

		TransactionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_total",
				Help: "Total number of transaction status changes",
			},
			[]string{"type", "status"},
		),
		PlatformFeesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "platform_fees_total_gbp",
				Help: "Total platform fees on completed transactions in GBP",
			},
		),
		SellerEarningsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "seller_earnings_total_gbp",
				Help: "Total seller earnings on completed transactions in GBP",
			},
		),

		CircuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
			},
			[]string{"name"},
		),
	}
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinHandler returns a Gin-compatible handler for Prometheus metrics
func GinHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordCacheHit records a cache hit
func RecordCacheHit(cacheType string) {
	Get().CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(cacheType string) {
	Get().CacheMisses.WithLabelValues(cacheType).Inc()
}

// SetDBConnections sets database connection metrics
func SetDBConnections(active, idle int) {
	Get().DBConnectionsActive.Set(float64(active))
	Get().DBConnectionsIdle.Set(float64(idle))
}

// RecordAgentCreated records an agent creation
func RecordAgentCreated() {
	Get().AgentsCreated.Inc()
}

// RecordAgentPublished records an agent going live for the first time
func RecordAgentPublished() {
	Get().AgentsPublished.Inc()
}

// RecordAPICalls records reported agent API usage
func RecordAPICalls(n int64) {
	if n > 0 {
		Get().APICallsTotal.Add(float64(n))
	}
}

// RecordReview records a review mutation (submitted, updated, deleted, reported)
func RecordReview(action string) {
	Get().ReviewsTotal.WithLabelValues(action).Inc()
}

// RecordRatingRecomputation records one agent rating aggregation
func RecordRatingRecomputation() {
	Get().RatingRecomputations.Inc()
}

// RecordTrustRecomputation records one persisted user trust score
func RecordTrustRecomputation(userType string) {
	Get().TrustRecomputations.WithLabelValues(userType).Inc()
}

// RecordTransaction records a transaction entering a status
func RecordTransaction(txType, status string) {
	Get().TransactionsTotal.WithLabelValues(txType, status).Inc()
}

// RecordSettledAmounts records the fee split of a completed transaction
func RecordSettledAmounts(platformFee, sellerEarning float64) {
	Get().PlatformFeesTotal.Add(platformFee)
	Get().SellerEarningsTotal.Add(sellerEarning)
}

// SetCircuitBreakerState sets the circuit breaker state
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(name string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(name).Set(state)
}
