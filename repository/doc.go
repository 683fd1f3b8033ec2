// Package repository provides a descriptor-driven repository over Bun that
// reads and writes dynamic entity rows as maps, filters by relation ids and
// eager-loads relations one level deep.
package repository
