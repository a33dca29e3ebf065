// SPDX-License-Identifier: GPL-2.0-only

package usbip

import "encoding/binary"

// Setup is the 8-byte SETUP packet carried in the last two words of a
// CMD_SUBMIT. The bytes are kept exactly as they appear on the wire,
// which is USB (little-endian) order.
type Setup [8]byte

// LegacyWord returns the 64-bit value produced by converting both
// 32-bit words of the setup field from network order and then
// exchanging them. The most significant byte is bmRequestType.
func (s Setup) LegacyWord() uint64 {
	hi := binary.BigEndian.Uint32(s[0:4])
	lo := binary.BigEndian.Uint32(s[4:8])
	return uint64(hi)<<32 | uint64(lo)
}

// SetupFromLegacyWord is the inverse of Setup.LegacyWord.
func SetupFromLegacyWord(v uint64) Setup {
	var s Setup
	binary.BigEndian.PutUint32(s[0:4], uint32(v>>32))
	binary.BigEndian.PutUint32(s[4:8], uint32(v))
	return s
}
