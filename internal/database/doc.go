// Package database provides PostgreSQL connection pool construction.
//
// The client uses a single optional database: the intent journal.
package database
