// Package orchestrator wires the labelctl components together and drives
// their startup and shutdown.
//
// # Startup
//
// Start runs the following steps in order. Every step is idempotent, so the
// sequence is safe to repeat on each process restart:
//
//  1. Allocate a port for every configured service (the label API and the
//     control endpoint). An exhausted range aborts startup.
//  2. Poll the print spooler until it answers, bounded by
//     spooler.readyTimeout. A spooler that never answers aborts startup.
//  3. Discover attached label printers and register each one. Failures are
//     logged and do not abort startup.
//  4. Ensure the database schema.
//  5. Start every configured tunnel in the background. Tunnel problems never
//     delay the local printing path.
//
// After startup a cron scheduler re-runs discovery periodically so that
// hot-plugged printers are picked up without a restart.
//
// # Tunnel recovery
//
// When a tunnel client dies the controller reports FAILED. The orchestrator
// restarts it with exponential backoff (tunnel.restartBackoff doubling up to
// five minutes) until tunnel.maxRestarts is reached. Permanent configuration
// errors are never retried. A manual start resets the budget.
//
// # Status
//
// Status builds its snapshot from database reads only, so it is cheap and
// has no side effects.
//
// # Usage Example
//
//	orch, err := orchestrator.New(cfg, orchestrator.Deps{Store: st, Spooler: cups})
//	if err != nil {
//	    return err
//	}
//	if err := orch.Start(ctx); err != nil {
//	    return err
//	}
//	defer orch.Stop(context.Background())
package orchestrator
