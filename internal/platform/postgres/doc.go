// Package postgres provides the sync storage tier on PostgreSQL. Records live
// in a single key/value table created by the embedded goose migrations and
// are accessed through the pgx database/sql driver.
package postgres
