/*
Package scheduler runs diagnostic collectors periodically.

Each registered collector gets its own goroutine driven by a time.Ticker. A
tick runs:

	IsEnabled() -> Collect(ctx) -> (non-empty) Store(ctx, payload)

A disabled collector skips the tick; a collection error is logged, counted and
published as collector.collect_failed, and the tick is abandoned. A panicking
collector is recovered and its loop keeps running.

# Drift

Collectors never queue work. When a tick handler takes longer than the
interval, the tick the ticker buffered meanwhile is dropped and counted in
arobust_scheduler_ticks_skipped_total.

# Lifecycle

Start and Stop are idempotent. Collectors registered after Start begin
immediately. Stop cancels the context passed to Collect and Store, waits up to
the grace period for in-flight ticks, and guarantees that no new tick starts
after it returns. A stopped scheduler can be started again.
*/
package scheduler
