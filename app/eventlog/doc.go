// Package eventlog keeps host events, i.e. capture warnings, worker start failures and exits,
// in a SQLite database with WAL mode. Events carry the captured worker output where it matters.
package eventlog
