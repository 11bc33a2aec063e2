// Package storage presents one read/write/delete interface over several
// storage tiers. Reads go fastest-first and copy hits into faster tiers;
// writes fan out by configured priority, either best-effort (eventual) or
// all-or-nothing through a transaction (strong).
package storage
