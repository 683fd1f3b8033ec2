// Package events publishes record change events of dynamic entities.
package events
