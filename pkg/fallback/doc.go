// Package fallback implements the local durable fallback store: a bounded
// FIFO ring of sealed audit envelopes that could not be delivered, persisted
// through a pluggable backend so entries survive process restarts.
package fallback
