// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package am2320

import "testing"

// frameCRCOK reports whether the trailing two bytes of an 8-byte response
// frame match the crc of the first six, low byte first.
func frameCRCOK(frame []byte) bool {
	got := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	return got == crc16(frame[:len(frame)-2])
}

func TestCRC16(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result uint16
	}{
		// Vector from the vendor datasheet.
		{bytes: []byte{0x03, 0x04, 0x01, 0xf4, 0x00, 0xfa}, result: 0xa531},
		{bytes: []byte{0x03, 0x04, 0x01, 0x5c, 0x00, 0xef}, result: 0x8a71},
		{bytes: []byte{0x03, 0x04, 0x02, 0x26, 0x00, 0xde}, result: 0xc391},
	}
	for _, test := range tests {
		res := crc16(test.bytes)
		if res != test.result {
			t.Errorf("crc16(%#v)!=0x%04x received 0x%04x", test.bytes, test.result, res)
		}
	}
}

// Any single-bit corruption of a valid frame must be rejected.
func TestCRC16BitFlip(t *testing.T) {
	good := []byte{0x03, 0x04, 0x01, 0xf4, 0x00, 0xfa, 0x31, 0xa5}
	if !frameCRCOK(good) {
		t.Fatal("known good frame rejected")
	}
	for ix := range good {
		for bit := 0; bit < 8; bit++ {
			frame := make([]byte, len(good))
			copy(frame, good)
			frame[ix] ^= 1 << bit
			if frameCRCOK(frame) {
				t.Errorf("frame with byte %d bit %d flipped passed the crc check", ix, bit)
			}
		}
	}
}
