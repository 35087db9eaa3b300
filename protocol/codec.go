package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Frame is the decoded signalling envelope. Data holds the raw payload
// for the caller to unmarshal once the opcode is known.
type Frame struct {
	Op   Opcode          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// envelope is the outbound counterpart of Frame with an eagerly
// marshaled payload.
type envelope struct {
	Op   Opcode `json:"op"`
	Data any    `json:"d"`
}

// MaxFrameSize bounds inflated frame sizes to keep a hostile or
// corrupted compressed frame from exhausting memory.
const MaxFrameSize = 1024 * 1024

// ErrFrameTooLarge is returned when an inflated frame exceeds
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("inflated frame exceeds maximum size")

// Marshal encodes an opcode and payload into a JSON text frame ready
// for transmission on the control channel.
func Marshal(op Opcode, payload any) ([]byte, error) {
	data, err := json.Marshal(envelope{Op: op, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", op, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Marshal",
		"opcode":     op.String(),
		"frame_size": len(data),
	}).Debug("Encoded signalling frame")

	return data, nil
}

// Unmarshal decodes a received frame. Compressed frames are
// zlib-inflated to JSON text first; text frames are decoded as-is.
func Unmarshal(data []byte, compressed bool) (*Frame, error) {
	if compressed {
		inflated, err := inflate(data)
		if err != nil {
			return nil, fmt.Errorf("failed to inflate binary frame: %w", err)
		}
		data = inflated
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode signalling frame: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Unmarshal",
		"opcode":   frame.Op.String(),
	}).Debug("Decoded signalling frame")

	return &frame, nil
}

// inflate decompresses a zlib-deflated frame, enforcing MaxFrameSize.
func inflate(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	out, err := io.ReadAll(io.LimitReader(reader, MaxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return out, nil
}
