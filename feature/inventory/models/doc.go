// Package models defines the persistent data model of the inventory
// subsystem: the authoritative stock row, its segments, and the
// reservation ledger, together with the shared business-condition
// errors.
package models
