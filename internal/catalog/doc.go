// Package catalog holds the set of cacheable metadata catalogs (trending,
// top rated, per-genre discovery lists...) and the consumer-facing fetchers
// that resolve them through the fetch orchestrator.
//
// Registered catalogs are the unit of bulk refresh. Ad-hoc lookups such as
// searches and movie details are cached under derived keys but never
// refreshed in bulk.
package catalog
