package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MRC-CLIMB/bryn/internal/service/admin"
	"github.com/MRC-CLIMB/bryn/internal/service/auth"
	"github.com/MRC-CLIMB/bryn/internal/service/cloud"
	"github.com/MRC-CLIMB/bryn/internal/service/invitation"
	"github.com/MRC-CLIMB/bryn/internal/service/keypair"
	"github.com/MRC-CLIMB/bryn/internal/service/lease"
	"github.com/MRC-CLIMB/bryn/internal/service/licence"
	"github.com/MRC-CLIMB/bryn/internal/service/region"
	"github.com/MRC-CLIMB/bryn/internal/service/stats"
	"github.com/MRC-CLIMB/bryn/internal/service/team"
	"github.com/MRC-CLIMB/bryn/internal/service/tenant"
	"github.com/MRC-CLIMB/bryn/internal/service/user"
	"github.com/MRC-CLIMB/bryn/internal/ws"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// Deps groups the services served by the Router.
type Deps struct {
	Logger      *slog.Logger
	Auth        auth.Service
	Users       user.Service
	Teams       team.Service
	Invitations invitation.Service
	Licences    licence.Service
	Regions     region.Service
	Tenants     tenant.Service
	Cloud       cloud.Service
	Leases      lease.Service
	Keypairs    keypair.Service
	Stats       stats.Service
	Admin       admin.Service
	Hub         *ws.Hub
	Web         http.Handler
	Limiter     RateLimiter
	Cookie      CookieConfig
	DBHealth    func(context.Context) error
	Registerer  prometheus.Registerer

	// TrustedProxies may set X-Forwarded-For. Empty means the peer address is used as is.
	TrustedProxies []netip.Prefix
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         chi.Router
	logger      *slog.Logger
	auth        auth.Service
	users       user.Service
	teams       team.Service
	invitations invitation.Service
	licences    licence.Service
	regions     region.Service
	tenants     tenant.Service
	cloud       cloud.Service
	leases      lease.Service
	keypairs    keypair.Service
	stats       stats.Service
	admin       admin.Service
	hub         *ws.Hub
	web         http.Handler
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	cookie      CookieConfig
	dbHealth    func(context.Context) error
	heartbeat   time.Duration
	proxies     []netip.Prefix

	metricsOnce sync.Once
	metrics     *routerMetrics
}

const (
	rateWindowDefault    = time.Minute
	rateWindowRealtime   = 30 * time.Second
	rateLimitLogin       = 12
	rateLimitUserRead    = 240
	rateLimitCloudWrite  = 60
	rateLimitAdmin       = 30
	rateLimitStream      = 30
	healthCheckTimeout   = 2 * time.Second
	streamHeartbeatEvery = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(d Deps) *Router {
	r := &Router{
		logger:      d.Logger,
		auth:        d.Auth,
		users:       d.Users,
		teams:       d.Teams,
		invitations: d.Invitations,
		licences:    d.Licences,
		regions:     d.Regions,
		tenants:     d.Tenants,
		cloud:       d.Cloud,
		leases:      d.Leases,
		keypairs:    d.Keypairs,
		stats:       d.Stats,
		admin:       d.Admin,
		hub:         d.Hub,
		web:         d.Web,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   d.Limiter,
		cookie:    d.Cookie,
		dbHealth:  d.DBHealth,
		heartbeat: streamHeartbeatEvery,
		proxies:   d.TrustedProxies,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.cookie.Name == "" {
		r.cookie.Name = "bryn_session"
	}
	r.initMetrics(d.Registerer)
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, r.audit, middleware.Recoverer)
	mux.Get("/healthz", r.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.With(r.requireAuth, r.rateLimit("ws", rateLimitStream, rateWindowRealtime, r.rateLimitKeyUser)).
		Get("/ws/hypervisor-stats", r.handleStatsWS)

	mux.Route("/api", func(api chi.Router) {
		api.With(r.rateLimit("login", rateLimitLogin, rateWindowDefault, r.rateLimitKeyIP)).Post("/auth/login", r.handleLogin)
		api.Post("/auth/logout", r.handleLogout)

		api.Group(func(authed chi.Router) {
			authed.Use(r.requireAuth, r.rateLimit("api", rateLimitUserRead, rateWindowDefault, r.rateLimitKeyUser))
			writes := r.rateLimit("cloud-write", rateLimitCloudWrite, rateWindowDefault, r.rateLimitKeyUserWrite)

			authed.Get("/user", r.handleGetUser)
			authed.Patch("/user", r.handleUpdateUser)
			authed.Get("/regions", r.handleRegions)
			authed.Get("/licence/current", r.handleCurrentLicence)
			authed.Get("/hypervisor-stats", r.handleStats)
			authed.With(r.rateLimit("stream", rateLimitStream, rateWindowRealtime, r.rateLimitKeyUser)).
				Get("/hypervisor-stats/stream", r.handleStatsStream)

			authed.Get("/keypairs", r.handleListKeyPairs)
			authed.Post("/keypairs", r.handleCreateKeyPair)
			authed.Delete("/keypairs/{id}", r.handleDeleteKeyPair)
			authed.Post("/keypairs/{id}/default", r.handleDefaultKeyPair)

			authed.Post("/invitations/{uuid}/accept", r.handleAcceptInvitation)
			authed.Get("/teams", r.handleListTeams)
			authed.Route("/teams/{team}", func(t chi.Router) {
				t.Get("/", r.handleGetTeam)
				t.Patch("/", r.handleUpdateTeam)
				t.Put("/", r.handleUpdateTeam)
				t.Get("/members", r.handleListMembers)
				t.Delete("/members/{member}", r.handleDeleteMember)
				t.Get("/invitations", r.handleListInvitations)
				t.Post("/invitations", r.handleCreateInvitation)
				t.Delete("/invitations/{uuid}", r.handleDeleteInvitation)
				t.Get("/licence-acceptances", r.handleListAcceptances)
				t.Post("/licence-acceptances", r.handleAcceptLicence)
				t.Get("/tenants", r.handleListTenants)

				t.Route("/tenants/{tenant}", func(tn chi.Router) {
					tn.Get("/flavors", r.handleFlavors)
					tn.Get("/images", r.handleImages)
					tn.Get("/keypairs", r.handleTenantKeyPairs)
					tn.With(writes).Post("/keypairs", r.handleCreateTenantKeyPair)
					tn.With(writes).Delete("/keypairs/{name}", r.handleDeleteTenantKeyPair)
					tn.Get("/volume-types", r.handleVolumeTypes)
					tn.Get("/volumes", r.handleVolumes)
					tn.With(writes).Post("/volumes", r.handleCreateVolume)
					tn.With(writes).Delete("/volumes/{volume}", r.handleDeleteVolume)
					tn.Get("/servers", r.handleServers)
					tn.Get("/servers/{server}", r.handleServer)
					tn.With(writes).Delete("/servers/{server}", r.handleTerminateServer)
					tn.With(writes).Post("/servers/{server}/{action}", r.handleServerAction)
					tn.Get("/servers/{server}/lease", r.handleGetLease)
					tn.Post("/servers/{server}/lease", r.handleAssignLease)
					tn.Post("/servers/{server}/lease/renew", r.handleRenewLease)
					tn.Post("/servers/{server}/lease/request", r.handleRequestLeaseExtension)
				})
			})

			authed.Route("/admin", func(a chi.Router) {
				a.Use(r.requireStaff, r.rateLimit("admin", rateLimitAdmin, rateWindowDefault, r.rateLimitKeyUser))
				a.Post("/teams/verify", r.handleVerifyTeams)
				a.Post("/tenants", r.handleCreateTenants)
				a.Post("/invitations/resend", r.handleResendInvitations)
				a.Post("/users/resend-validation", r.handleResendValidation)
			})
		})
	})

	if r.web != nil {
		mux.NotFound(r.web.ServeHTTP)
	}
	r.mux = mux
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)

		route := "unmatched"
		if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := r.clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := middleware.GetReqID(req.Context()); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			if info.Staff {
				actor = "staff"
			}
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// clientIP returns the peer address. X-Forwarded-For is only honoured when the
// peer is a trusted proxy, and then the rightmost untrusted hop wins.
func (r *Router) clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(req.RemoteAddr)
	}
	if !r.trustedProxy(host) {
		return host
	}
	forwarded := strings.Split(req.Header.Get("X-Forwarded-For"), ",")
	for i := len(forwarded) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(forwarded[i])
		if hop == "" {
			continue
		}
		if !r.trustedProxy(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (r *Router) trustedProxy(host string) bool {
	if len(r.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies accepts CIDR ranges or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// caller returns the authenticated user of the request.
func (r *Router) caller(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return authInfo{}, false
	}
	return info, true
}

// idParam parses a numeric URL parameter. Malformed identifiers are reported as not found.
func idParam(w http.ResponseWriter, req *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(req, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

// teamScope resolves the caller and the {team} parameter.
func (r *Router) teamScope(w http.ResponseWriter, req *http.Request) (authInfo, int64, bool) {
	info, ok := r.caller(w, req)
	if !ok {
		return authInfo{}, 0, false
	}
	teamID, ok := idParam(w, req, "team")
	if !ok {
		return authInfo{}, 0, false
	}
	return info, teamID, true
}

// tenantRef resolves the caller, {team} and {tenant}.
func (r *Router) tenantRef(w http.ResponseWriter, req *http.Request) (tenant.Ref, bool) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return tenant.Ref{}, false
	}
	tenantID, ok := idParam(w, req, "tenant")
	if !ok {
		return tenant.Ref{}, false
	}
	return tenant.Ref{TeamID: teamID, TenantID: tenantID, UserID: info.UserID}, true
}
