/*
Package collector gathers diagnostic data from the training environment and
hands it to a reporting client.

Every collector implements Collector. The shared behaviour lives in Base,
which each variant embeds:

	ResourceCollector  RESOURCE_USAGE    CPU and memory from procfs, GPUs via nvidia-smi
	MetricCollector    XPU_TIMER_METRIC  scrape of the accelerator timer exporter
	LogCollector       TRAINING_LOG      tail of the training log since the last read
	StackCollector     STACK_TRACE       stack dump of the agent or of a dumper command

# Collect and Store

Collect returns a Payload, which is either content or empty; an empty payload
means there was nothing new and is not an error. Environment faults are
returned as *CollectionError.

Store wraps a non-empty payload into a types.TrainingMetricRecord and calls the
reporting client under a bounded timeout. A missing client produces a single
warning; a failing client produces an error log and the data is dropped. Store
never retries and never returns an error. Retrying is the job of the client
(see client.Retrying).

# Client Hot Swap

SetClient replaces the reporting client atomically. Each Store call loads the
client once, so a concurrent swap affects only later calls.
*/
package collector
