/*
Package diagnosis implements the diagnosis engine: the collector registry, the
reporting client hand-off, and the decision policy that turns observed
failures into a recovery action.

# Architecture

	                 ┌────────────────────────────┐
	   Register ───▶ │           Engine           │ ◀─── SetClient
	                 │  registry    client        │
	                 │  (mutex-ordered fan-out)   │
	                 └──────┬─────────────┬───────┘
	                        │             │
	                        ▼             ▼
	               scheduler.Scheduler   Policy (immutable)
	               one loop per          ordered rules,
	               collector             restart threshold
	                        │             │
	                        ▼             ▼
	              Collector.Store    Diagnose(failures, restarts)
	              -> Reporter        -> types.DiagnosisAction

# Client Hand-off

RegisterCollector and SetClient take the same engine mutex. A collector
registered after SetClient receives the client before RegisterCollector
returns, and a SetClient fans out to every collector registered before it.
After SetClient(C1) followed by SetClient(C2), every collector holds C2.

# Decisions

Diagnose evaluates the rules in table order; the first rule matching any
failure wins. Failure keys are visited in sorted order. Given a match:

	rule.Unrecoverable            -> FAIL_FAST
	restartCount <  threshold     -> RESTART_WORKER
	restartCount >= threshold     -> RELAUNCH_FULL

No match yields CONTINUE. A rule may override the policy threshold. The
threshold has no default; NewPolicy rejects values below 1.

# Shared Instance

Agents use Shared to obtain a single engine per process. The first successful
construction wins; a failed construction may be retried. Tests and embedders
that need several engines call NewEngine directly.

# Heartbeats

When the current client implements HeartbeatReporter, the engine pings it on
its own loop while started. Consecutive failures mark the reporter component
unhealthy in the metrics health registry.
*/
package diagnosis
