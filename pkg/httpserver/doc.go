// Package httpserver runs an HTTP handler with configured timeouts and a
// graceful shutdown bound to a context.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// Run returns nil after a clean shutdown. Listen errors are joined with
// ErrStart and shutdown deadline failures with ErrShutdown.
package httpserver
