/*
Package storage implements the durable checkpoint manifest on BoltDB.

The manifest is the single source of truth for which checkpoints exist. A
checkpoint artifact on disk that the manifest does not reference is garbage,
and a checkpoint becomes visible to readers exactly when the transaction that
records it commits.

# Layout

	manifest.db
	├── actor/                 one top-level bucket per role
	│   ├── records/           seq (big-endian uint64) -> CheckpointRecord JSON
	│   ├── steps/             (episode, step) -> seq
	│   └── latest             seq of the most recently published record
	├── critic/
	└── rollout/

Sequences come from the records bucket's NextSequence and define publish
order, which retention uses to pick the oldest record.
*/
package storage
