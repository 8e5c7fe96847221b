// Package taskctl enforces the at-most-one-active-job-per-tenant-and-kind
// model on top of the job registry.
package taskctl

import "sellwatch/internal/store"

// conflicts maps a job kind to the kinds that block it from starting
// while they are running for the same tenant. Every kind conflicts at
// least with itself; the notify pipeline additionally conflicts with
// the pre-load backfill, because a tenant mid-backfill must not also
// receive a concurrent notify scan.
var conflicts = map[store.JobKind][]store.JobKind{
	store.JobKindPreload:    {store.JobKindPreload},
	store.JobKindNotify:     {store.JobKindNotify, store.JobKindPreload},
	store.JobKindLoadStocks: {store.JobKindLoadStocks},
}

// Kinds lists every known job kind. Kept in sync with the conflict
// table; TestConflictTableIsTotal guards the pairing.
func Kinds() []store.JobKind {
	return []store.JobKind{
		store.JobKindPreload,
		store.JobKindNotify,
		store.JobKindLoadStocks,
	}
}

// ConflictSet returns the kinds that must not be running for the same
// tenant before a job of the given kind may start. The set always
// includes the kind itself.
func ConflictSet(kind store.JobKind) []store.JobKind {
	set, ok := conflicts[kind]
	if !ok {
		return []store.JobKind{kind}
	}
	return set
}
