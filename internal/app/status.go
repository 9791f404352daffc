// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Status is the retained telemetry message published on every mode change.
type Status struct {
	Mode      string `json:"mode"`
	Session   int    `json:"session"`
	Capture   string `json:"capture"`
	Rows      int    `json:"rows"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Time      string `json:"time"`
}

type StatusPublisher interface {
	Publish(s Status)
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(Status) {}

// publishTimeout bounds how long the control loop waits on the broker.
const publishTimeout = 250 * time.Millisecond

type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to broker and returns a publisher for topic.
func NewMQTTPublisher(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("app: connected to MQTT broker at %s", broker)
	return &MQTTPublisher{client: client, topic: topic}, nil
}

func (p *MQTTPublisher) Publish(s Status) {
	payload, err := json.Marshal(s)
	if err != nil {
		log.Printf("json marshal error (status): %v", err)
		return
	}
	token := p.client.Publish(p.topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Printf("MQTT publish timeout (%s)", p.topic)
		return
	}
	if token.Error() != nil {
		log.Printf("MQTT publish error (%s): %v", p.topic, token.Error())
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
