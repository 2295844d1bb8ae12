package routetable

// DefaultEntries returns the mount points named in spec.md §6, covering the
// nine backend services declared in spec.md §2: user, ai-scouting,
// marketplace-monitor, trading, notification, risk-management, strategy,
// and the two execution backends (reached only through the trading
// service's own calls, never mounted directly at ingress).
func DefaultEntries() []Entry {
	return []Entry{
		// Local — serviced by the ingress pipeline itself (§4.B/E) or the
		// realtime hub, never dispatched to a backend.
		{Method: "GET", PathPattern: "/health", Auth: AuthNone, RateLimitClass: ClassBypass},
		{Method: "GET", PathPattern: "/api/health/*", Auth: AuthNone, RateLimitClass: ClassBypass},
		{Method: "GET", PathPattern: "/api/status", Auth: AuthNone, RateLimitClass: ClassBypass},
		{Method: "GET", PathPattern: "/api/metrics", Auth: AuthNone, RateLimitClass: ClassBypass},
		{Method: "GET", PathPattern: "/api/performance", Auth: AuthNone, RateLimitClass: ClassBypass},
		{Method: "GET", PathPattern: "/api/v1/websocket/status", Auth: AuthNone, RateLimitClass: ClassBypass},
		{Method: "POST", PathPattern: "/api/v1/websocket/test-message", Auth: AuthRequired},

		// user service — register/login carry no auth and the strict
		// rate-limit class (spec.md §6).
		{Method: "POST", PathPattern: "/api/v1/users/register", Auth: AuthNone, Service: "user", UpstreamPath: "/register", RateLimitClass: ClassStrict},
		{Method: "POST", PathPattern: "/api/v1/users/login", Auth: AuthNone, Service: "user", UpstreamPath: "/login", RateLimitClass: ClassStrict},
		{PathPattern: "/api/v1/users/*", Auth: AuthRequired, Service: "user"},
		{PathPattern: "/api/v1/leaderboard/*", Auth: AuthOptional, Service: "user"},
		{PathPattern: "/api/v1/leaderboard", Auth: AuthOptional, Service: "user"},

		// ai-scouting — all authed.
		{PathPattern: "/api/v1/ai/*", Auth: AuthRequired, Service: "ai-scouting"},

		// marketplace-monitor — opportunities/arbitrage/alerts* require
		// auth, the rest is optionally authed (spec.md §6).
		{PathPattern: "/api/v1/marketplace/opportunities", Auth: AuthRequired, Service: "marketplace-monitor"},
		{PathPattern: "/api/v1/marketplace/opportunities/*", Auth: AuthRequired, Service: "marketplace-monitor"},
		{PathPattern: "/api/v1/marketplace/arbitrage", Auth: AuthRequired, Service: "marketplace-monitor"},
		{PathPattern: "/api/v1/marketplace/arbitrage/*", Auth: AuthRequired, Service: "marketplace-monitor"},
		{PathPattern: "/api/v1/marketplace/alerts", Auth: AuthRequired, Service: "marketplace-monitor"},
		{PathPattern: "/api/v1/marketplace/alerts/*", Auth: AuthRequired, Service: "marketplace-monitor"},
		{PathPattern: "/api/v1/marketplace/*", Auth: AuthOptional, Service: "marketplace-monitor"},

		// trading — POST /execute is a special two-hop dispatch handled by
		// the ingress router directly (risk-management validate-trade
		// first), everything else forwards straight through.
		{
			Method: "POST", PathPattern: "/api/v1/trades/execute", Auth: AuthRequired,
			Service: "trading", UpstreamPath: "/trades/execute",
			PreValidateService: "risk-management", PreValidatePath: "/validate-trade",
		},
		{PathPattern: "/api/v1/trades/*", Auth: AuthRequired, Service: "trading"},

		{PathPattern: "/api/v1/notifications/*", Auth: AuthRequired, Service: "notification"},
		{PathPattern: "/api/v1/strategies/*", Auth: AuthRequired, Service: "strategy"},
		{PathPattern: "/api/v1/portfolio/*", Auth: AuthRequired, Service: "trading"},
	}
}
