// Package domain holds the records shared by the engine, the stores and the
// HTTP layer: bots, their users with conversation state, flows and the
// message audit trail.
package domain
