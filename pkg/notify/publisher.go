// Copyright 2024 The shelf-go Authors
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

package notify

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/turtacn/shelf-go/pkg/config"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt: operation timed out")

// Publisher sends one payload to one topic.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
	Close()
}

// MQTTPublisher is a Publisher backed by a paho client.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

// DialMQTT connects to cfg.Broker and waits for the CONNACK.
func DialMQTT(cfg config.EventsConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return &MQTTPublisher{client: client, timeout: cfg.ConnectTimeout}, nil
}

// Publish sends payload and waits for the broker's acknowledgement when qos
// is above 0.
func (p *MQTTPublisher) Publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: %w", topic, ErrTimeout)
	}
	return token.Error()
}

// Close disconnects after letting in-flight work finish for up to 250ms.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
