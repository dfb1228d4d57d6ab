// Package sagastore persists saga state through dialect commands on a
// host-supplied Executor.
//
// Each saga row carries a ConcurrencyVersion. Save writes version 1, Update
// and Complete only touch the row when the caller's version is still
// current, and Update increments it. A stale version surfaces as
// sqlerr.ErrConcurrencyConflict; a missing row as sqlerr.ErrNotFound.
//
// Command sets are rendered once per saga name, on first use, and cached for
// the life of the Store.
package sagastore
