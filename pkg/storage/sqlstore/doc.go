// Package sqlstore persists policies, events, cases, vendor profiles and
// action failures in SQL databases.
//
// Three drivers are supported: "sqlite3" (mattn/go-sqlite3, cgo), "sqlite"
// (modernc.org/sqlite, pure Go) and "postgres" (lib/pq). Structured
// documents are stored as JSON text next to the columns used for filtering.
// Timestamps are stored as fixed-width UTC strings so they sort the same way
// in every dialect.
//
// Events and case audit entries are append-only. Cases, policies and vendor
// profiles are written with a compare-and-swap on their version column.
package sqlstore
