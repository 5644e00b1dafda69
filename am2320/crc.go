// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package am2320

// crc16 computes the checksum the device appends to every response frame:
// the reflected Modbus CRC, polynomial 0xa001, initial value 0xffff. The
// device transmits it low byte first. Algorithm from the datasheet.
func crc16(bytes []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range bytes {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x01 != 0 {
				crc = crc>>1 ^ 0xa001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
