/*
Package agent assembles the per-node runtime.

New wires, from one config.Config:

  - the diagnosis engine, shared process-wide unless injected, with its
    collector scheduler and heartbeat loop
  - the reporting client: a gRPC reporter to the master (optionally behind
    retry and rate limiting) or an in-memory LocalStore
  - the default collectors, created through a collector.Factory
  - the checkpoint store, when a checkpoint root is configured
  - the training monitor, the stats loop and the HTTP API

Start and Stop drive the background parts; Run also serves the API and
blocks until its context ends.
*/
package agent
