/*
Package journal persists a record of every mutating volume operation in
BoltDB.

Each entry lists the steps the operation executed and, when it failed, which
compensations ran and whether they succeeded. An operator reads the journal
(GET /btrfs/journal, or `burrow history`) to find partial state left on disk
after a failure.

Entries live in a single bucket, "operations", keyed by an 8-byte big-endian
sequence so cursor order is insertion order. Values are JSON encoded
types.JournalEntry. Recording past the configured maximum deletes the oldest
entries in the same transaction.
*/
package journal
