package bitcoin

import "bytes"

// bitcoinAttestationTag marks a BitcoinBlockHeaderAttestation inside a
// serialized OpenTimestamps proof: the attestation marker byte followed by
// the 8-byte type tag.
var bitcoinAttestationTag = []byte{0x05, 0x88, 0x96, 0x0d, 0x73, 0xd7, 0x19, 0x01}

// ParseBitcoinAttestation scans a serialized proof for a Bitcoin block
// attestation and returns the attested block height. This is a targeted
// extraction, not a full proof verifier: the payload after the tag is a
// varint length followed by a varint height.
func ParseBitcoinAttestation(proof []byte) (height int64, ok bool) {
	idx := bytes.Index(proof, bitcoinAttestationTag)
	if idx < 0 {
		return 0, false
	}
	rest := proof[idx+len(bitcoinAttestationTag):]

	payloadLen, n := readVarint(rest)
	if n == 0 || payloadLen <= 0 || int(payloadLen) > len(rest)-n {
		return 0, false
	}
	height, n = readVarint(rest[n : n+int(payloadLen)])
	if n == 0 || height <= 0 {
		return 0, false
	}
	return height, true
}

// readVarint decodes the OpenTimestamps little-endian base-128 varint.
// Returns the decoded value and bytes consumed, or (0, 0) on malformed input.
func readVarint(data []byte) (int64, int) {
	var value int64
	var shift uint
	for i, b := range data {
		if shift > 56 {
			return 0, 0
		}
		value |= int64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1
		}
		shift += 7
	}
	return 0, 0
}
