// Package repository binds a Bun model type to a session. A Repository
// combines the immutable query builder, conflict handling for upserts and a
// pagination strategy, and exposes CRUD, bulk and paging operations. Which
// statements it issues depends on the capabilities of the session's
// dialect, such as RETURNING and ON CONFLICT support.
package repository
