// Package schema describes dynamic entity types: their table, fields,
// relations and display field, and keeps them in a registry keyed by slug.
package schema
