// Package server is the WebSocket and HTTP binding of the room relay.
//
// A Hub owns the live Clients and their read/write pumps; each Client turns
// JSON frames into relay events and implements relay.Connection for the
// outbound direction. HTTP handlers share a single State built at startup.
package server
