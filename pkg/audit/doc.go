// Package audit is the PHI audit-event pipeline: it records compliance
// relevant actions, classifies their sensitivity, and delivers them sealed
// and signed to a remote sink. Critical events bypass batching and are held
// in the local fallback store until delivered; everything else is batched.
package audit
