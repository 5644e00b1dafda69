package am2320

import "fmt"

// IOError wraps a bus-level failure on the command write or the response
// read. The wake-up write is exempt; its failure is part of the protocol.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("am2320: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// FramingError reports a response whose header does not echo the issued
// command, meaning the device and driver are out of sync.
type FramingError struct {
	Got  [2]byte
	Want [2]byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("am2320: response header % x, want % x", e.Got[:], e.Want[:])
}

// ChecksumError reports a response frame that failed CRC validation.
type ChecksumError struct {
	Got  uint16
	Want uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("am2320: frame crc 0x%04x, computed 0x%04x", e.Got, e.Want)
}
