// Package cache implements the disk-backed span cache used for streamed media.
// Each resource is identified by a key and stored as a set of non-overlapping
// span files (<id>.<position>.span) under a single cache directory, alongside a
// persisted content index that records key ids, known content lengths and the
// last touch time of every span file. Byte ranges that are not on disk are
// reported as hole spans so callers can inspect the full layout of a resource.
// Capacity is enforced by a pluggable Evictor; LRUEvictor discards the least
// recently touched spans first. Only one SimpleCache may own a directory per
// process at a time.
package cache
