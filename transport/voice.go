package transport

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Audio framing constants. Each outbound packet carries one encoded
// audio frame behind an RTP-style 12-byte header; the header doubles
// as the leading bytes of the secretbox nonce.
const (
	headerSize = 12

	rtpVersion     = 0x80
	rtpPayloadType = 0x78

	// samplesPerFrame is the timestamp stride for one 20 ms frame at
	// a 48 kHz clock.
	samplesPerFrame = 960
)

// Send encrypts one encoded audio frame with the session secret and
// transmits it to the voice server. Returns ErrSessionNotStarted if no
// secret has been installed yet.
func (t *UDPTransport) Send(frame []byte) error {
	select {
	case <-t.ctx.Done():
		return ErrTransportClosed
	default:
	}

	t.mu.Lock()
	if !t.secretSet {
		t.mu.Unlock()
		return ErrSessionNotStarted
	}

	t.sequence++
	t.timestamp += samplesPerFrame

	header := make([]byte, headerSize)
	header[0] = rtpVersion
	header[1] = rtpPayloadType
	binary.BigEndian.PutUint16(header[2:4], t.sequence)
	binary.BigEndian.PutUint32(header[4:8], t.timestamp)
	binary.BigEndian.PutUint32(header[8:12], t.ssrc)

	var nonce [24]byte
	copy(nonce[:], header)

	packet := secretbox.Seal(header, frame, &nonce, &t.secret)
	t.mu.Unlock()

	if _, err := t.conn.WriteTo(packet, t.remote); err != nil {
		return fmt.Errorf("failed to send audio packet: %w", err)
	}
	return nil
}
