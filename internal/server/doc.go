// Package server assembles the fetchfloww HTTP service.
//
// # Application
//
// An Application is built once at startup:
//
//	app := server.New(server.Config{Logger: logger, Metrics: metrics})
//	_ = app.RegisterLiveness()       // GET / -> {"message": "Backend is up and running"}
//	_ = app.Mount(authHandler)        // /auth/...
//	_ = app.Mount(attachmentsHandler) // /attachments/...
//	_ = app.Mount(appHandler)         // /api/...
//	_ = app.InstallCORS(cors.DefaultPolicy())
//	err := app.Start(":8000")
//
// Route groups implement RouteGroup and register their routes, with their own
// path prefixes, on the Router they are handed. Each group has its own
// ServeMux and a request goes to the first group, in mount order, that
// matches it. When two groups register the same pattern the later
// registration is logged and skipped. Handler and Start freeze the routing
// table; mounting afterwards returns ErrServing.
//
// The CORS policy wraps every route, liveness included, so preflight requests
// are answered before reaching any handler.
//
// # Metrics server
//
// MetricsServer serves Prometheus metrics and the health probes on a
// dedicated port, away from application traffic.
package server
