/*
Package metrics provides Prometheus metrics and health endpoints for the arobust agent.

All metrics are package-level collectors registered with the default Prometheus
registry at init time and exposed through Handler. Components update them
directly; nothing in this package holds references to other packages.

# Metric Catalog

	Collectors:
	  arobust_collector_collect_duration_seconds{collector}   histogram
	  arobust_collector_errors_total{collector}               counter
	  arobust_reports_total{data_type,result}                 counter
	  arobust_report_duration_seconds{data_type}              histogram
	  arobust_collectors_registered                           gauge

	Scheduler:
	  arobust_scheduler_ticks_total{collector}                counter
	  arobust_scheduler_ticks_skipped_total{collector}        counter

	Diagnosis:
	  arobust_diagnosis_actions_total{action}                 counter
	  arobust_heartbeats_total{result}                        counter

	Checkpoints:
	  arobust_checkpoint_saves_total{role,result}             counter
	  arobust_checkpoint_save_duration_seconds{role}          histogram
	  arobust_checkpoint_loads_total{role,result}             counter
	  arobust_checkpoint_evictions_total{role}                counter
	  arobust_checkpoints_stored{role}                        gauge

	Training:
	  arobust_training_global_step                            gauge

# Timing Operations

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CheckpointSaveDuration, string(role))

# Health

Registry keeps the health of agent components. Components report with
SetComponent on the default registry. A critical component (engine and api)
that is down makes /health answer 503; a non-critical one such as the
reporter only marks the agent degraded. /ready waits for every critical
component to be up.

# Stats Sampling

Collector samples gauges that describe agent state (registered collectors,
stored checkpoints per role) from a Source every 15 seconds.
*/
package metrics
