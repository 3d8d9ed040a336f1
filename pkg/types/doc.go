/*
Package types defines the data model shared across arobust packages.

Diagnostic data flows as TrainingMetricRecord values: collectors produce
content tagged with a DiagnosisDataType and the identity of the node
(NodeInfo), and reporting clients ship the record to the remote node. Records
are immutable and are only built through NewTrainingMetricRecord, which stamps
the current time.

Recovery decisions are DiagnosisAction values carrying an ActionType and the
parameters that explain the decision (matched rule, restart count, threshold).

Checkpoint history is described by CheckpointRecord values, one per published
checkpoint, scoped by Role.
*/
package types
