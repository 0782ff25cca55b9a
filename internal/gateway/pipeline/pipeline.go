package pipeline

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/chandanmad/gatekeep/internal/gateway/account"
	"github.com/chandanmad/gatekeep/internal/gateway/limiter"
	"github.com/chandanmad/gatekeep/internal/gateway/metrics"
	"github.com/chandanmad/gatekeep/internal/gateway/routing"
	"github.com/chandanmad/gatekeep/internal/gateway/telemetry"
	"github.com/chandanmad/gatekeep/internal/gateway/usage"
)

// APIKeyHeader is the required ingress header.
const APIKeyHeader = "x-api-key"

// Deps is everything the pipeline's handler needs wired in from main.
type Deps struct {
	Store           *account.Store
	Limiters        *limiter.Registry
	Routes          *routing.Table
	Usage           *usage.Aggregator
	Metrics         *metrics.Sink
	DefaultRPSLimit int64
	Now             func() time.Time
	Log             zerolog.Logger
}

// Handler implements the per-request state machine: auth, limit admission,
// routing, forwarding, and usage/metric recording.
type Handler struct {
	deps    Deps
	proxies sync.Map // string address -> *httputil.ReverseProxy
}

// NewHandler builds a Handler over deps, defaulting Now to time.Now.
func NewHandler(deps Deps) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{deps: deps}
}

// Router wraps the handler in a chi mux carrying request-id tagging and
// panic recovery. The handler itself, not chi, performs path-prefix backend
// selection: that selection has first-match and hot-reload semantics chi's
// router does not model.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Handle("/*", http.HandlerFunc(h.ServeHTTP))
	return r
}

// ServeHTTP runs one request through START -> AUTHENTICATED -> ROUTED ->
// RESPONDED.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get(APIKeyHeader)
	if apiKey == "" {
		h.deps.Metrics.Record(metrics.MissingKeySentinel, http.StatusUnauthorized)
		telemetry.ObserveMissingKey()
		w.Header().Set("WWW-Authenticate", "API key missing")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	hash := HashAPIKey(apiKey)
	keyCtx, hasCtx := h.deps.Store.GetKeyContext(hash)

	// Plans express their limit as requests per second, so the window is
	// always one second; unknown keys fall back to the default floor.
	quota := h.deps.DefaultRPSLimit
	var windowSecs int64 = 1
	if plan, ok := h.deps.Store.GetPlanForKey(hash); ok {
		quota = plan.RPSLimit
	}

	estimator := h.deps.Limiters.ForWindow(windowSecs)
	seen := estimator.Observe(apiKey, 1)
	if seen > quota {
		h.deps.Metrics.Record(apiKey, http.StatusTooManyRequests)
		telemetry.ObserveRejected()
		w.Header().Set("Retry-After", strconv.FormatInt(windowSecs, 10))
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(quota, 10))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	telemetry.ObserveAdmitted()

	backend, err := h.deps.Routes.Select(r.URL.Path)
	if err != nil {
		status := statusForRoutingError(err)
		h.deps.Metrics.Record(apiKey, status)
		w.Header().Set("Connection", "close")
		w.WriteHeader(status)
		return
	}

	proxy := h.proxyFor(backend.Address())
	counting := &byteCountingWriter{ResponseWriter: w}
	proxy.ServeHTTP(counting, r)

	status := counting.status
	if status == 0 {
		status = http.StatusOK
	}
	h.deps.Metrics.Record(apiKey, status)

	if hasCtx {
		h.deps.Usage.Record(keyCtx.AccountID, keyCtx.KeyID, keyCtx.PlanID, counting.bytes, h.deps.Now().Unix())
	}
}

func statusForRoutingError(err error) int {
	switch err {
	case routing.ErrNoServiceMatch:
		return http.StatusNotFound
	case routing.ErrNoBackend:
		return http.StatusServiceUnavailable
	case routing.ErrBackendUnimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// proxyFor returns a cached reverse proxy for address, building one on
// first use. Reverse proxies are safe for concurrent reuse, and caching
// avoids reconstructing the director/transport on every request.
func (h *Handler) proxyFor(address string) *httputil.ReverseProxy {
	if v, ok := h.proxies.Load(address); ok {
		return v.(*httputil.ReverseProxy)
	}
	target := &url.URL{Scheme: "http", Host: address}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.deps.Log.Warn().Err(err).Str("address", address).Msg("upstream forward failed")
		w.WriteHeader(http.StatusBadGateway)
	}
	actual, _ := h.proxies.LoadOrStore(address, proxy)
	return actual.(*httputil.ReverseProxy)
}
