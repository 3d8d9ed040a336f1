/*
Package client provides the reporting clients that collectors hand their
records to.

GRPCReporter sends records to the master node. Each record is carried as a
google.protobuf.Struct on the ReportDiagnosisAgentMetrics method, and
heartbeats go to ReportHeartbeat:

	collector.Store ─► [RateLimited] ─► [Retrying] ─► GRPCReporter ─► master
	                                                          │
	diagnosis.Engine heartbeat loop ──────────────────────────┘

Retrying and RateLimited are opt-in decorators; without them a failed report
is logged and the data dropped. LocalStore keeps records in memory for a
retention window and is used when no master address is configured.
*/
package client
