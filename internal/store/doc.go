// Package store persists the hub's operation journal.
//
// Every relayed print or scale read, and every completion notification an
// agent sends back, becomes one Operation row. The journal is for operators
// looking at what happened; the agent registry never reads from it and is
// rebuilt from heartbeats after a restart.
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) with WAL enabled.
// MockStore is an in-memory implementation for tests.
package store
