// Package shutdown coordinates graceful process shutdown.
//
// A Handler waits for SIGINT, SIGTERM or an explicit Trigger, cancels the
// context its components run under and then runs the registered hooks in
// reverse order under a timeout.
//
//	h := shutdown.NewHandler(30 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return srv.Shutdown(ctx) })
//	go engine.Run(h.Context())
//	err := h.Wait()
package shutdown
