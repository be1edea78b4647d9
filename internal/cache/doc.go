// Package cache defines the disk-backed Resource Cache that maps a request
// identity (its fragment-less URL) to a stored response. Every entry lives
// under StoragePath/<CacheName>/ as a body file plus a JSON metadata file that
// records status, headers and the request header values named by Vary. Writes
// go through temp file + rename so readers never observe a half-written file;
// a per-key lock (shared for reads) keeps a body paired with its own metadata.
package cache
