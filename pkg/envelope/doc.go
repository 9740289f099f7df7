// Package envelope provides the pluggable cryptography used to seal audit
// events: field-level envelope encryption, payload signatures, and loading
// of the master secret both are derived from.
package envelope
