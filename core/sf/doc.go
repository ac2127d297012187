// Package sf is a typed wrapper around golang.org/x/sync/singleflight.
//
// Concurrent callers asking for the same key share one execution:
//
//	var prepares sf.Group[*sql.Stmt]
//
//	stmt, _, err := prepares.Do(query, func() (*sql.Stmt, error) {
//		return db.PrepareContext(ctx, query)
//	})
package sf
