// Copyright 2016 Michael Stapelberg and contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mayqtt implements an MQTT client which receives scan requests from
// <prefix>/cmd/scan and publishes status to <prefix>/ui/status and the
// scanner sensors to <prefix>/hw/status.
package mayqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stapelberg/epscan"
	"golang.org/x/net/trace"
)

type Config struct {
	// Broker is the MQTT broker URL, e.g. tcp://dr.lan:1883. If empty,
	// no connection is made and all messages are dropped.
	Broker string

	// Prefix is prepended to all topics, e.g. epscan.
	Prefix string

	ClientID string
}

func (c *Config) topic(suffix string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "epscan"
	}
	return prefix + "/" + suffix
}

type PublishRequest struct {
	Topic    string
	Qos      byte
	Retained bool
	Payload  interface{}
}

// decodeScanRequest parses the payload of a message on <prefix>/cmd/scan.
// An empty payload requests a scan with the default settings.
func decodeScanRequest(payload []byte) (*epscan.ScanRequest, error) {
	var sr epscan.ScanRequest
	if len(payload) == 0 {
		return &sr, nil
	}
	if err := json.Unmarshal(payload, &sr); err != nil {
		return nil, err
	}
	return &sr, nil
}

func mqttLoop(cfg Config, mqttScanRequests chan *epscan.ScanRequest, requests <-chan PublishRequest) error {
	tr := trace.New("MQTT", "Loop")
	defer tr.Finish()

	broker := cfg.Broker
	cmdTopic := cfg.topic("cmd/scan")
	tr.LazyPrintf("Connecting to MQTT broker %s", broker)
	opts := mqtt.NewClientOptions().AddBroker(broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "epscan"
	}
	opts.SetClientID(clientID)
	opts.SetConnectRetry(true)
	opts.OnConnect = func(c mqtt.Client) {
		tr.LazyPrintf("OnConnect, subscribing to %s", cmdTopic)
		token := c.Subscribe(
			cmdTopic,
			0, /* qos */
			func(_ mqtt.Client, m mqtt.Message) {
				tr.LazyPrintf("message on topic %s: %q", m.Topic(), string(m.Payload()))
				sr, err := decodeScanRequest(m.Payload())
				if err != nil {
					log.Printf("error unmarshaling payload: %v", err)
					return
				}
				select {
				case mqttScanRequests <- sr:
				default:
					// Channel full, scan request already pending; drop
				}
			})
		if token.Wait() && token.Error() != nil {
			tr.LazyPrintf("subscription failed! %v", token.Error())
		}
	}
	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connection failed: %v", token.Error())
	}
	tr.LazyPrintf("Connected to MQTT broker %s", broker)

	for r := range requests {
		tr.LazyPrintf("publishing on topic %s: %q", r.Topic, r.Payload)
		// discard Token, MQTT publishing is best-effort
		_ = mqttClient.Publish(r.Topic, r.Qos, r.Retained, r.Payload)
	}
	return nil
}

var (
	mu         sync.Mutex
	cfg        Config
	publish    chan PublishRequest
	lastStatus string
	lastHW     string
)

// MQTT connects to the configured broker in the background and forwards
// scan requests to scanRequests. Afterwards, Publishf and
// PublishHardwareStatus send messages.
func MQTT(c Config, scanRequests chan *epscan.ScanRequest) {
	if c.Broker == "" {
		log.Printf("MQTT disabled: no broker configured")
		return
	}
	ch := make(chan PublishRequest)
	mu.Lock()
	cfg = c
	publish = ch
	mu.Unlock()
	go func() {
		if err := mqttLoop(c, scanRequests, ch); err != nil {
			log.Print(err)
		}
	}()
}

// send publishes payload unless it equals *last.
func send(last *string, topicSuffix string, payload string) {
	mu.Lock()
	defer mu.Unlock()
	// Prevent duplicate messages if status has not changed
	if *last == payload {
		return
	}
	*last = payload
	select {
	case publish <- PublishRequest{
		Topic:    cfg.topic(topicSuffix),
		Retained: true,
		Payload:  []byte(payload),
	}:
	default:
		// drop message if MQTT is not connected
	}
}

func Publishf(format string, args ...interface{}) {
	send(&lastStatus, "ui/status", fmt.Sprintf(format, args...))
}

// PublishHardwareStatus publishes the JSON encoding of status, e.g. an
// epjitsu.HardwareStatus.
func PublishHardwareStatus(status interface{}) {
	b, err := json.Marshal(status)
	if err != nil {
		log.Printf("encoding hardware status: %v", err)
		return
	}
	send(&lastHW, "hw/status", string(b))
}
