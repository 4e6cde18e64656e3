// Package httpserver provides the base HTTP server shared by the ledger and
// oracle services.
//
// BaseServer bundles the pieces every aggledger binary needs: a chi router
// with standard middleware, structured request logging, health endpoints
// (/livez, /readyz), drain control for load balancers (/drain, /undrain),
// an optional Prometheus metrics listener, optional pprof, and graceful
// shutdown. Components plug their endpoints in through the RouteRegistrar
// interface:
//
//	func (h *MyHandler) RegisterRoutes(r chi.Router) {
//	    r.Post("/entries", h.handleSubmit)
//	}
//
//	srv, _ := httpserver.New(cfg, handler)
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
