// Package monitor follows training progress written by the training loop
// and publishes the global step.
package monitor
