// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package am2320 provides a driver for the AOSONG AM2320 temperature/humidity
// sensor, a basic, inexpensive i2c sensor with reasonably good accuracy for
// both measurements.
//
// The device spends most of its time in a low-power sleep state to avoid
// self-heating, so every reading starts with a wake-up write that the sensor
// does not acknowledge. That write failing is part of the protocol, not an
// error.
//
// # Datasheet
//
// https://cdn-shop.adafruit.com/product-files/3721/AM2320.pdf
package am2320

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	// DefaultAddress is the fixed address of the device. Note that the
	// datasheet states the value is 0xb8, which is the address pre-shifted
	// for the R/W bit.
	DefaultAddress i2c.Addr = 0x5c

	// Function code for reading a span of registers.
	cmdReadRegisters byte = 0x03

	// The humidity high byte is register 0; reading 4 registers from there
	// returns humidity and temperature in one frame.
	regHumidity        byte = 0x00
	senseRegisterCount byte = 4

	// The device samples at 0.5Hz. Polling faster than once every 3 seconds
	// returns stale values and warms the package.
	minSenseInterval = 3 * time.Second
)

// Opts holds the configuration options for the device.
type Opts struct {
	// SettleDelay is the pause between the wake-up write and the read
	// command, giving the device's bus controller time to come out of
	// sleep. The datasheet minimum is 800µs. Leave 0 to use the default.
	SettleDelay time.Duration
	// ConversionDelay is the pause between the read command and reading
	// back the response frame. The datasheet minimum is 1.5ms. Leave 0 to
	// use the default.
	ConversionDelay time.Duration
	// Retries is the number of additional attempts made when a transaction
	// fails with a framing or checksum error. Bus-level IO errors are never
	// retried. The default of 0 performs a single attempt, leaving the
	// retry decision to the caller.
	Retries int
}

// DefaultOpts holds the default configuration options for the device.
var DefaultOpts = Opts{
	SettleDelay:     800 * time.Microsecond,
	ConversionDelay: 2 * time.Millisecond,
}

// Dev represents an am2320 temperature/humidity sensor.
type Dev struct {
	d        *i2c.Dev
	opts     Opts
	mu       sync.Mutex
	shutdown chan struct{}
}

// New returns a device that communicates over the supplied i2c bus. The Opts
// can be nil, in which case DefaultOpts is used.
func New(b i2c.Bus, addr i2c.Addr, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	o := *opts
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultOpts.SettleDelay
	}
	if o.ConversionDelay <= 0 {
		o.ConversionDelay = DefaultOpts.ConversionDelay
	}
	if o.Retries < 0 {
		return nil, errors.New("am2320: negative retry count")
	}
	return &Dev{d: &i2c.Dev{Bus: b, Addr: uint16(addr)}, opts: o}, nil
}

// transact performs one wake/command/read cycle and returns the requested
// registers. The response frame is:
//
//	{function code, register count, registers..., crc low, crc high}
func (dev *Dev) transact(reg, count byte) ([]byte, error) {
	// Wake the device. It does not hold the bus while asleep, so this write
	// fails with a NAK. The error is discarded on purpose.
	_ = dev.d.Tx([]byte{0x00}, nil)
	time.Sleep(dev.opts.SettleDelay)

	if err := dev.d.Tx([]byte{cmdReadRegisters, reg, count}, nil); err != nil {
		return nil, &IOError{Op: "write command", Err: err}
	}
	time.Sleep(dev.opts.ConversionDelay)

	r := make([]byte, count+4)
	if err := dev.d.Tx(nil, r); err != nil {
		return nil, &IOError{Op: "read response", Err: err}
	}
	if r[0] != cmdReadRegisters || r[1] != count {
		return nil, &FramingError{
			Got:  [2]byte{r[0], r[1]},
			Want: [2]byte{cmdReadRegisters, count},
		}
	}
	got := uint16(r[len(r)-2]) | uint16(r[len(r)-1])<<8
	if want := crc16(r[:len(r)-2]); got != want {
		return nil, &ChecksumError{Got: got, Want: want}
	}
	return r[2 : 2+count], nil
}

// readRegisters runs transact, re-running it up to Opts.Retries times when
// the frame arrives corrupted. IO errors surface immediately.
func (dev *Dev) readRegisters(reg, count byte) ([]byte, error) {
	r, err := dev.transact(reg, count)
	for n := 0; err != nil && corrupted(err) && n < dev.opts.Retries; n++ {
		r, err = dev.transact(reg, count)
	}
	return r, err
}

func corrupted(err error) bool {
	var fe *FramingError
	var ce *ChecksumError
	return errors.As(err, &fe) || errors.As(err, &ce)
}

// Sense queries the sensor for the current temperature and humidity. Note
// that the sensor reports a sample rate of 1/2 hz. It's recommended to not
// poll the sensor more frequently than once every 3 seconds.
func (dev *Dev) Sense(env *physic.Env) error {
	env.Temperature = 0
	env.Pressure = 0
	env.Humidity = 0

	dev.mu.Lock()
	defer dev.mu.Unlock()

	r, err := dev.readRegisters(regHumidity, senseRegisterCount)
	if err != nil {
		return err
	}

	h := uint16(r[0])<<8 | uint16(r[1])
	env.Humidity = physic.RelativeHumidity(h) * physic.MilliRH

	// The temperature field is sign-magnitude, not two's complement: the
	// top bit flags a sub-zero reading, the low 15 bits are tenths of a
	// degree.
	t := uint16(r[2])<<8 | uint16(r[3])
	mag := physic.Temperature(t & 0x7fff)
	if t&0x8000 != 0 {
		mag = -mag
	}
	env.Temperature = physic.ZeroCelsius + (physic.Celsius/10)*mag

	return nil
}

// SenseContinuous returns a channel that can be read to return values from
// the sensor. The minimum value for interval is 3 seconds. To end the read,
// call Halt().
func (dev *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < minSenseInterval {
		return nil, errors.New("am2320: invalid interval. minimum 3 seconds")
	}
	dev.mu.Lock()
	if dev.shutdown != nil {
		dev.mu.Unlock()
		return nil, errors.New("am2320: sense continuous already running")
	}
	dev.shutdown = make(chan struct{})
	dev.mu.Unlock()

	ch := make(chan physic.Env, 16)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(ch)
		for {
			select {
			case <-dev.shutdown:
				dev.mu.Lock()
				dev.shutdown = nil
				dev.mu.Unlock()
				return
			case <-ticker.C:
				e := physic.Env{}
				if err := dev.Sense(&e); err == nil {
					ch <- e
				}
			}
		}
	}()
	return ch, nil
}

// Halt interrupts a running SenseContinuous() operation.
func (dev *Dev) Halt() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.shutdown != nil {
		close(dev.shutdown)
	}
	return nil
}

// Precision returns the resolution of the device for its measured parameters.
func (dev *Dev) Precision(env *physic.Env) {
	env.Temperature = physic.Celsius / 10
	env.Pressure = 0
	env.Humidity = physic.MilliRH
}

func (dev *Dev) String() string {
	return fmt.Sprintf("am2320: %s", dev.d)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
