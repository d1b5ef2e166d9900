/*
Package httpserver implements the evidence server of the attestation agent.

It serves the HTTP API that remote verifiers and the tenant use to interact
with an attested instance: quote endpoints backed by the hardware root of
trust, key delivery endpoints for the bootstrap key shares, and operational
endpoints for health checking and draining. Handlers are provided by the
caller and mounted onto the server's router, so the package stays agnostic
of the evidence semantics behind each route.

# Features

  - Mounts any number of RouteRegistrar handler groups under a shared
    request-logging middleware
  - API version discovery endpoint
  - Health and diagnostics endpoints
  - Optional pprof endpoints for profiling
  - Separate metrics listener exposing the Prometheus registry
  - Context-driven lifecycle with graceful shutdown and drain support

# Endpoints

  - GET /version - Supported evidence API version
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

All evidence endpoints (quotes, keys) are contributed by the mounted
handlers, see api/quoteshandler and api/keyshandler.

# Lifecycle

Run serves until the listener fails or the context is canceled. A listener
failure is returned wrapped so the caller can treat it as fatal to the
agent; cancellation shuts the server down gracefully and returns the
context's error. The metrics listener, when configured, is started and
stopped together with the main one.

# Example Usage

	// Set up configuration
	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:9002",
		MetricsAddr:              "127.0.0.1:8090",
		Log:                      logger,
		DrainDuration:            45 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}

	// Create server with the evidence handlers
	server, err := httpserver.New(cfg, metricsSrv, quotesHandler, keysHandler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Serve until the context is canceled
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Evidence server failed: %v", err)
	}
*/
package httpserver
