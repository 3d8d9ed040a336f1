/*
Package api serves the agent's HTTP endpoint.

# Routes

	GET  /health        component health (503 when a component is unhealthy)
	GET  /ready         readiness of the engine and the API itself
	GET  /live          liveness
	GET  /metrics       Prometheus metrics
	POST /v1/diagnose   recovery decision for a set of failures
	GET  /v1/status     registered collectors and stored checkpoints

A training launcher running out of process asks for a decision with:

	POST /v1/diagnose
	{"failures": {"error": "CUDA out of memory"}, "restart_count": 1}

	200 OK
	{"action_type": "RESTART_WORKER", "parameters": {"rule": "oom", ...}}

Every routed request is counted in arobust_api_requests_total by route
template and status code.
*/
package api
