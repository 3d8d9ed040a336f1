/*
Package health provides probes for what the agent depends on and a tracker
that turns their results into an up/down verdict.

PortProbe tells the metric collector whether the accelerator timer exporter is
listening before a scrape is attempted:

	probe := health.NewPortProbe("127.0.0.1:18889", 200*time.Millisecond)
	if probe.Probe(ctx).OK {
		// scrape
	}

Tracker follows the heartbeat to the master. It goes down after a run of
consecutive failures and reports each transition so callers log once per
change rather than once per failure.
*/
package health
