/*
Package checkpoint saves and restores training state with crash-safe
publication.

A Store owns one checkpoint root:

	<root>/manifest.db                       published records (see package storage)
	<root>/<role>/<episode>-<step>-<uuid>.ckpt
	<root>/<role>/.staging/<uuid>.tmp

A save encodes the state, writes and syncs a staging file, renames it into the
role directory, syncs the directory and then commits the manifest. The commit
is the only point at which a checkpoint becomes visible. A crash at any
earlier point leaves the previous record as the latest; the stray files are
removed the next time the store is opened.

Retention is per role: after each save the oldest records beyond
Policy.MaxCheckpoints are removed from the manifest, then their files deleted.
The record just published is never evicted.

Role wrappers add the behavior specific to each kind of state:
PeriodicManager saves on an interval, RefLogPManager keeps reference log
probabilities, and RolloutManager keeps rollout batches per episode.
*/
package checkpoint
