// Package inventory implements safe stock deduction: a try/confirm/
// cancel reservation protocol over a versioned inventory row, plus
// direct deduction strategies for callers that do not need the two-phase
// shape.
package inventory
