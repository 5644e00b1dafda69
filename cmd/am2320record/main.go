// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// am2320record polls an AM2320 sensor and records the readings to InfluxDB,
// optionally publishing each one as JSON over MQTT.
//
// Configuration comes from the environment (or a .env file):
//
//	I2C_BUS          I²C bus name, empty for the first available
//	READ_INTERVAL_S  polling interval in seconds, minimum 3 (default 10)
//	INFLUX_URL       InfluxDB server (default http://localhost:8086)
//	INFLUX_TOKEN     InfluxDB API token
//	INFLUX_ORG       InfluxDB organization
//	INFLUX_BUCKET    InfluxDB bucket (default sensors)
//	MQTT_BROKER      broker address, e.g. tcp://localhost:1883; empty disables MQTT
//	MQTT_USER        broker username
//	MQTT_PASSWORD    broker password
//	MQTT_CLIENT_ID   client identifier (default am2320record)
//	MQTT_TOPIC       publish topic (default sensors/am2320)
package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/aosong-go/am2320/am2320"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// reading is the MQTT payload for one sample.
type reading struct {
	TemperatureC float64   `json:"temperature_c"`
	HumidityRH   float64   `json:"humidity_rh"`
	Timestamp    time.Time `json:"timestamp"`
}

// connectMQTT connects to the broker, retrying with exponential backoff so a
// broker that is still starting up does not kill the recorder.
func connectMQTT(broker, user, password, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetUsername(user)
	opts.SetPassword(password)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("failed to connect to MQTT broker: %v", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, 4))
	if err != nil {
		return nil, err
	}
	log.Printf("connected to MQTT broker at %s", broker)
	return client, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	interval := time.Duration(envInt("READ_INTERVAL_S", 10)) * time.Second
	topic := envStr("MQTT_TOPIC", "sensors/am2320")

	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	b, err := i2creg.Open(envStr("I2C_BUS", ""))
	if err != nil {
		log.Fatalf("failed to open I²C: %v", err)
	}
	defer b.Close()

	dev, err := am2320.New(b, am2320.DefaultAddress, nil)
	if err != nil {
		log.Fatalf("failed to initialize am2320: %v", err)
	}

	client := influxdb2.NewClient(envStr("INFLUX_URL", "http://localhost:8086"), os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	writeAPI := client.WriteAPI(envStr("INFLUX_ORG", ""), envStr("INFLUX_BUCKET", "sensors"))
	// The write API is asynchronous; its errors arrive on a channel that has
	// to be drained.
	go func() {
		for err := range writeAPI.Errors() {
			log.Printf("influx write error: %v", err)
		}
	}()

	var mq mqtt.Client
	if broker := envStr("MQTT_BROKER", ""); broker != "" {
		mq, err = connectMQTT(broker, envStr("MQTT_USER", ""), envStr("MQTT_PASSWORD", ""),
			envStr("MQTT_CLIENT_ID", "am2320record"))
		if err != nil {
			log.Fatalf("could not establish MQTT connection after retries: %v", err)
		}
		defer mq.Disconnect(250)
	}

	ch, err := dev.SenseContinuous(interval)
	if err != nil {
		log.Fatal(err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("stopping")
		if err := dev.Halt(); err != nil {
			log.Printf("halt failed: %v", err)
		}
	}()

	log.Printf("recording %s every %s", dev, interval)
	for e := range ch {
		r := reading{
			TemperatureC: e.Temperature.Celsius(),
			HumidityRH:   float64(e.Humidity) / float64(physic.PercentRH),
			Timestamp:    time.Now(),
		}
		p := influxdb2.NewPointWithMeasurement("am2320").
			AddTag("sensor", "am2320").
			AddField("temperature_c", r.TemperatureC).
			AddField("humidity_rh", r.HumidityRH).
			SetTime(r.Timestamp)
		writeAPI.WritePoint(p)

		if mq != nil {
			payload, err := json.Marshal(r)
			if err != nil {
				log.Printf("marshal failed: %v", err)
				continue
			}
			mq.Publish(topic, 0, false, payload)
		}
		log.Printf("recorded %8s %9s", e.Temperature, e.Humidity)
	}
	writeAPI.Flush()
}
