// Package cache provides a generic key-value cache interface with an LRU
// implementation.
//
// [LRU] bounds its size, supports per-entry TTLs and reports every entry
// leaving the cache to an eviction callback, which makes it suitable for
// caching resources that must be released, such as prepared statements:
//
//	stmts := cache.NewLRU(cache.LRUOpts[string, *sql.Stmt]{
//		Size:    256,
//		OnEvict: func(_ string, s *sql.Stmt) { _ = s.Close() },
//	})
//	defer stmts.Close()
//
// Expired entries are evicted lazily on access.
package cache
