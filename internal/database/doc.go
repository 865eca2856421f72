// Package database provides the PostgreSQL connection pool used by the
// activity archiver.
package database
