// Package stores persists the local journal of the dockercloud client.
// The SQLite store records every finished state wait and, optionally, every
// event read from the audit stream so they can be inspected later with
// `dcloud history`.
package stores
