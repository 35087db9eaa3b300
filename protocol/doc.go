// Package protocol defines the wire-level message variants exchanged
// over the voice signalling websocket and the codec that converts
// between frames and typed payloads.
//
// Frames are JSON envelopes of the form {"op": <opcode>, "d": <payload>}.
// Servers may deliver frames either as websocket text messages or as
// zlib-deflated binary messages; both decode to the same JSON text.
package protocol
