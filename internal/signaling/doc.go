// Package signaling is the WebSocket surface of the call-signaling relay.
//
// Each accepted connection gets a read loop and a write pump; inbound events
// are parsed, validated and handed to the relay, outbound events are drained
// from a bounded queue so one slow peer can never stall a room.
package signaling
