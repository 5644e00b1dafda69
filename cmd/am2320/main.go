// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// am2320 reads temperature and humidity from an AM2320 sensor and prints the
// values, once or at a fixed interval.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/aosong-go/am2320/am2320"
)

func main() {
	busName := flag.String("bus", "", "I²C bus name, empty for the first available")
	interval := flag.Duration("interval", 0, "polling interval, 0 reads once (minimum 3s)")
	retries := flag.Uint("retries", 0, "extra attempts per reading, spaced with exponential backoff")
	flag.Parse()

	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	b, err := i2creg.Open(*busName)
	if err != nil {
		log.Fatalf("failed to open I²C: %v", err)
	}
	defer b.Close()

	d, err := am2320.New(b, am2320.DefaultAddress, nil)
	if err != nil {
		log.Fatalf("failed to initialize am2320: %v", err)
	}

	// The driver performs no retries of its own. These sensors are a bit
	// flaky, so failed transactions are re-run here with backoff.
	read := func() (physic.Env, error) {
		e := physic.Env{}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 100 * time.Millisecond
		bo.MaxElapsedTime = 30 * time.Second
		err := backoff.Retry(func() error {
			return d.Sense(&e)
		}, backoff.WithMaxRetries(bo, uint64(*retries)))
		return e, err
	}

	if *interval == 0 {
		e, err := read()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%8s %9s\n", e.Temperature, e.Humidity)
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			return
		case <-ticker.C:
			e, err := read()
			if err != nil {
				log.Printf("read failed: %v", err)
				continue
			}
			fmt.Printf("%s %8s %9s\n", time.Now().Format(time.RFC3339), e.Temperature, e.Humidity)
		}
	}
}
