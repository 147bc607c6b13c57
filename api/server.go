package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/core/runner"
	"github.com/frameloom/frameloom/providers/assets"
	"github.com/frameloom/frameloom/providers/observability"
	"github.com/frameloom/frameloom/providers/storage"
)

// userHeader carries the authenticated caller identity, set by the gateway.
const userHeader = "X-User-ID"

// Server wires the HTTP routes to the engine.
type Server struct {
	store        storage.Store
	orchestrator *runner.Orchestrator
	resolver     *assets.Resolver
	observer     observability.Provider
}

// NewServer creates the API server. resolver may be nil when the assembly
// API is not configured; its routes then answer 500 PROVIDER_NOT_CONFIGURED.
func NewServer(store storage.Store, orchestrator *runner.Orchestrator, resolver *assets.Resolver, observer observability.Provider) *Server {
	if observer == nil {
		observer = observability.NoopProvider{}
	}
	return &Server{
		store:        store,
		orchestrator: orchestrator,
		resolver:     resolver,
		observer:     observer,
	}
}

// Router builds the chi router with all routes mounted under /api.
func (server *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(10 * time.Minute))
	router.Use(server.withObserver)

	router.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(server.requireUser)

		apiRouter.Post("/workflows", server.handleCreateWorkflow)
		apiRouter.Post("/workflows/{workflowID}/versions", server.handleSaveVersion)
		apiRouter.Post("/workflows/execute", server.handleExecute)
		apiRouter.Get("/workflows/{workflowID}/runs", server.handleListRuns)
		apiRouter.Get("/runs/{runID}", server.handleGetRun)
		apiRouter.Get("/assemblies/{assemblyID}", server.handleResolveAssembly)
	})

	return router
}

// withObserver attaches the observability provider to every request context.
func (server *Server) withObserver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCtx := observability.WithProvider(request.Context(), server.observer)
		next.ServeHTTP(writer, request.WithContext(requestCtx))
	})
}

// requireUser rejects requests without a caller identity.
func (server *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get(userHeader) == "" {
			writeError(request.Context(), writer, apperr.Unauthorized("missing %s header", userHeader))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// callerID reads the authenticated user from the request.
func callerID(request *http.Request) string {
	return request.Header.Get(userHeader)
}
