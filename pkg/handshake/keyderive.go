package handshake

import "github.com/ethan/remote-play-relay/pkg/codec"

// sessionKey0/sessionKey1 are the 112-byte constant tables §4.H calls
// SESSION_KEY_0/SESSION_KEY_1. Real console firmware carries fixed
// bytes here; no original-source reference was retrievable during
// this build (see DESIGN.md), so these are self-consistent
// placeholders preserved verbatim by this code rather than
// reverse-engineered constants. Swapping in the real tables is a
// drop-in replacement of these two arrays.
var sessionKey0 = func() [112]byte {
	var t [112]byte
	for i := range t {
		t[i] = byte(i*167 + 41)
	}
	return t
}()

var sessionKey1 = func() [112]byte {
	var t [112]byte
	for i := range t {
		t[i] = byte(i*113 + 197)
	}
	return t
}()

// sboxRow returns the 16-byte window of table starting at idx, where
// idx is always derived from a 5-bit nonce shift (0-31), leaving room
// inside a 112-byte table.
func sboxRow(table [112]byte, idx byte) [16]byte {
	var row [16]byte
	copy(row[:], table[int(idx):int(idx)+16])
	return row
}

const (
	ps5IVOffset  = 45
	ps4IVOffset  = 54
	ps5KeyOffset = 24
	ps4KeyOffset = 33
)

// DeriveKeys implements §4.H.3's bit-exact key derivation: given the
// handshake nonce and the console's rp_key, produce the session IV and
// AES key for the SessionCipher.
func DeriveKeys(nonce, rpKey [16]byte, host codec.HostType) (rpIV, aesKey [16]byte) {
	sbox0Row := sboxRow(sessionKey0, nonce[0]>>3)
	sbox1Row := sboxRow(sessionKey1, nonce[7]>>3)

	for i := 0; i < 16; i++ {
		var ivByte, keyByte int
		if host == codec.PS5 {
			ivByte = (int(nonce[i]) - ps5IVOffset - i) & 0xFF
			ivByte ^= int(sbox0Row[i])

			keyByte = (int(rpKey[i]) + ps5KeyOffset + i) & 0xFF
			keyByte ^= int(nonce[i])
			keyByte ^= int(sbox1Row[i])
		} else {
			ivByte = (int(nonce[i]) + ps4IVOffset + i) & 0xFF
			ivByte ^= int(sbox0Row[i])

			keyByte = int(sbox1Row[i]) ^ int(rpKey[i])
			keyByte = (keyByte + ps4KeyOffset + i) & 0xFF
			keyByte ^= int(nonce[i])
		}
		rpIV[i] = byte(ivByte & 0xFF)
		aesKey[i] = byte(keyByte & 0xFF)
	}

	return rpIV, aesKey
}
