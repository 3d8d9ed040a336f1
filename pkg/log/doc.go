/*
Package log provides structured logging for arobust using zerolog.

A single package-level Logger is configured once with Init and shared by every
package. Components derive child loggers that carry identifying fields:

	log.WithComponent("scheduler")        // component=scheduler
	log.WithCollector("log", "TRAINING_LOG") // component=collector collector=log data_type=TRAINING_LOG
	log.WithRole("actor")                 // component=checkpoint role=actor

Logs go to stderr so CLI results on stdout stay machine-readable. JSON output
is meant for production agents whose stderr is shipped to a log pipeline.
SetNode stamps node_id and node_rank on the base logger, so every line an
agent writes names the node it came from.

# Usage

	log.Init(log.Config{Level: log.ParseLevel(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	log.SetNode(cfg.Node.ID, cfg.Node.Rank)

	logger := log.WithComponent("agent")
	logger.Info().Int("rank", node.Rank).Msg("agent started")

Before Init is called, Logger writes JSON to stderr at the global level.
*/
package log
