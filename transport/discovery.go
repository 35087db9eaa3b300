package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// IP discovery exchange.
//
// Request wire format (74 bytes):
//
//	[TYPE(2)=0x1][LENGTH(2)=70][SSRC(4)][ADDRESS(64, zeroed)][PORT(2)=0]
//
// Response wire format (74 bytes):
//
//	[TYPE(2)=0x2][LENGTH(2)=70][SSRC(4)][ADDRESS(64, NUL-terminated)][PORT(2)]
//
// All integers are big-endian.
const (
	discoveryPacketSize = 74
	discoveryBodyLength = 70

	discoveryTypeRequest  = 0x1
	discoveryTypeResponse = 0x2
)

// Candidate is the externally reachable endpoint of the local data
// socket, as reported by the voice server.
type Candidate struct {
	Address string
	Port    uint16
}

var (
	errDiscoveryShort = errors.New("discovery response too short")
	errDiscoveryType  = errors.New("not a discovery response")
	errDiscoverySSRC  = errors.New("discovery response for unknown ssrc")
	errDiscoveryAddr  = errors.New("discovery response missing address")
)

// buildDiscoveryRequest serializes a discovery request for the given
// ssrc.
func buildDiscoveryRequest(ssrc uint32) []byte {
	packet := make([]byte, discoveryPacketSize)
	binary.BigEndian.PutUint16(packet[0:2], discoveryTypeRequest)
	binary.BigEndian.PutUint16(packet[2:4], discoveryBodyLength)
	binary.BigEndian.PutUint32(packet[4:8], ssrc)
	return packet
}

// parseDiscoveryResponse validates and decodes a discovery response,
// checking that it belongs to the given ssrc.
func parseDiscoveryResponse(data []byte, ssrc uint32) (*Candidate, error) {
	if len(data) < discoveryPacketSize {
		return nil, errDiscoveryShort
	}
	if binary.BigEndian.Uint16(data[0:2]) != discoveryTypeResponse {
		return nil, errDiscoveryType
	}
	if binary.BigEndian.Uint32(data[4:8]) != ssrc {
		return nil, errDiscoverySSRC
	}

	addrField := data[8:72]
	end := bytes.IndexByte(addrField, 0)
	if end < 0 {
		end = len(addrField)
	}
	if end == 0 {
		return nil, errDiscoveryAddr
	}

	return &Candidate{
		Address: string(addrField[:end]),
		Port:    binary.BigEndian.Uint16(data[72:74]),
	}, nil
}
