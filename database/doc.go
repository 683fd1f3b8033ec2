// Package database provides connection management, health checks, query
// hooks, SQL error classification and the descriptor-driven table migrations
// and seed files behind dynamic entities, built on top of Bun.
package database
