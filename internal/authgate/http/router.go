package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/opsledger/authgate/internal/authgate/service"
	"github.com/opsledger/authgate/internal/authgate/store"
	"github.com/opsledger/authgate/pkg/httpx"
	"github.com/opsledger/authgate/pkg/jwtx"
	"github.com/opsledger/authgate/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.CachedKeySet
	verifier     *jwtx.Verifier
	cookies      *CookieManager
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store        store.Store
	TokenService *service.TokenService
	OrgService   *service.OrgService
	UserService  *service.UserService
}

func NewRouter(
	keys *jwtx.CachedKeySet,
	verifier *jwtx.Verifier,
	cookies *CookieManager,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		cookies:      cookies,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerClient()
	r.registerOrgs()
	r.registerInvites()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// authn verifies the bearer or cookie credential and applies a per-user
// rate limit on top.
func (r *Router) authn(h http.Handler, limit httpx.RateLimitConfig) http.Handler {
	return httpx.Chain(h,
		httpx.AuthnMiddleware(r.verifier, AccessCookieName),
		httpx.RateLimitByUser(limit),
	)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Tokens: r.TokenService, Cookies: r.cookies}

	// Credential submission endpoints take the strict limit to slow down
	// password guessing.
	r.Mux.Handle("POST /v1/auth/sign-up",
		httpx.Chain(http.HandlerFunc(h.HandleSignUp),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/sign-in/password",
		httpx.Chain(http.HandlerFunc(h.HandleSignIn),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// Refresh and logout carry opaque tokens, not passwords.
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// Validate is unauthenticated on purpose: it answers for any presented
	// credential, including dead ones.
	r.Mux.Handle("GET /v1/auth/validate",
		httpx.Chain(http.HandlerFunc(h.HandleValidate),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerClient() {
	h := &ClientHandler{Users: r.UserService, Orgs: r.OrgService}

	r.Mux.Handle("GET /v1/client/me",
		r.authn(http.HandlerFunc(h.HandleMe), httpx.LenientLimit))
	r.Mux.Handle("PATCH /v1/client/switch-org",
		r.authn(http.HandlerFunc(h.HandleSwitchOrg), httpx.LenientLimit))
}

func (r *Router) registerOrgs() {
	h := &OrgHandler{Orgs: r.OrgService}

	r.Mux.Handle("POST /v1/org",
		r.authn(http.HandlerFunc(h.HandleCreate), httpx.ModerateLimit))
	r.Mux.Handle("GET /v1/org/{id}",
		r.authn(http.HandlerFunc(h.HandleGet), httpx.LenientLimit))
	r.Mux.Handle("DELETE /v1/org/{id}",
		r.authn(http.HandlerFunc(h.HandleDelete), httpx.ModerateLimit))
	r.Mux.Handle("GET /v1/org/{id}/members",
		r.authn(http.HandlerFunc(h.HandleListMembers), httpx.LenientLimit))
	r.Mux.Handle("POST /v1/org/{id}/invite",
		r.authn(http.HandlerFunc(h.HandleInvite), httpx.ModerateLimit))
	r.Mux.Handle("DELETE /v1/org/{id}/member/{userID}",
		r.authn(http.HandlerFunc(h.HandleRemoveMember), httpx.ModerateLimit))
	r.Mux.Handle("PATCH /v1/org/{id}/member/{userID}/role",
		r.authn(http.HandlerFunc(h.HandleUpdateRole), httpx.ModerateLimit))
}

func (r *Router) registerInvites() {
	h := &InviteHandler{Orgs: r.OrgService}

	r.Mux.Handle("POST /v1/invite/accept",
		r.authn(http.HandlerFunc(h.HandleAccept), httpx.ModerateLimit))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}
