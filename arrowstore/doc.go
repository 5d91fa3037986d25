// Package arrowstore is the backing array store: a single bbolt file holding
// a hierarchy of groups, string attributes per group and growable datasets of
// compound records.
//
// Groups are nested buckets. A dataset is a reserved bucket inside its group
// holding the Arrow schema of its records, its length and the records
// themselves, split into chunks of at most ChunkRows rows. Each chunk is an
// Arrow IPC stream with one record batch, prefixed with its xxh3 checksum.
//
// Every mutating call runs in one bbolt write transaction, so a failed write
// leaves the file as it was.
package arrowstore
