// Package store provides the SQL building blocks shared by the database-backed
// storage tiers: a key/value table adapter, a transaction helper and the
// error taxonomy the dialect packages map driver errors onto.
package store
