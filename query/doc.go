// Package query builds statements against a single entity. A Descriptor is
// an immutable description of one SELECT, INSERT, UPDATE, DELETE or UPSERT;
// builder methods return new descriptors and only the compile methods touch
// Bun. Column references are checked against the entity when they are added
// and fail with a types.SchemaError.
package query
