// Package cache defines the key-addressed response store behind the catalog
// fetchers. Each entry is one JSON document under StoragePath named after the
// sanitized key; writes go through a temp file + rename so readers observe
// either the previous or the new document, never a partial one. Expiry is a
// read-side decision (Entry.Expired): nothing is deleted just because it is
// old, which lets the fetch layer fall back to stale payloads when the
// upstream API is unavailable.
package cache
