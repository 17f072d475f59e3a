// Package store persists the account list with encrypted token blobs.
//
// The account file is a single JSON array rewritten atomically on every
// save; each save also writes a timestamped backup snapshot, of which only
// the ten most recent are retained. Loading fails open: a missing or
// unreadable file yields an empty store.
package store
