// Package reconcile settles reservations whose confirm or cancel never
// arrived. A periodic sweep asks an oracle what the upstream transaction
// actually did and applies the verdict with the same version gating as
// the online paths.
package reconcile
