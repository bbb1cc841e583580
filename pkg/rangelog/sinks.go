// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package rangelog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ConsoleSink prints one line per record
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink creates a console sink writing to w
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Write implements Sink
func (s *ConsoleSink) Write(r Record) error {
	_, err := fmt.Fprintf(s.w, "Received a range from %d: %.3f\n", r.AnchorAddr, r.Range)
	return err
}

// Close implements Sink
func (s *ConsoleSink) Close() error { return nil }

// CSVHeader is the first row written by CSVSink
var CSVHeader = []string{"ts", "anchor_addr", "range"}

// CSVSink appends records to a CSV file, flushing after every row so the
// file can be tailed while recording.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink writes the header to w and returns the sink.
// If w is an io.Closer it is closed with the sink.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if err := s.writeRow(CSVHeader); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSVSink) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

// Write implements Sink
func (s *CSVSink) Write(r Record) error {
	return s.writeRow([]string{
		strconv.FormatUint(r.Timestamp, 10),
		strconv.FormatUint(uint64(r.AnchorAddr), 10),
		strconv.FormatFloat(float64(r.Range), 'f', -1, 32),
	})
}

// Close implements Sink
func (s *CSVSink) Close() error {
	s.w.Flush()
	if s.closer != nil {
		return s.closer.Close()
	}
	return s.w.Error()
}

// mqttPublisher is the part of mqtt.Client used by MQTTSink
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// DefaultMQTTTimeout bounds broker round trips
const DefaultMQTTTimeout = 5 * time.Second

// MQTTSink republishes records as JSON on <prefix>/<anchor>
type MQTTSink struct {
	client  mqttPublisher
	prefix  string
	qos     byte
	timeout time.Duration
	closeFn func()
}

// mqttPayload is the JSON body of a republished range
type mqttPayload struct {
	Timestamp  uint64  `json:"ts"`
	AnchorAddr uint16  `json:"anchor_addr"`
	Range      float32 `json:"range"`
	Source     uint8   `json:"source"`
	Received   string  `json:"received"`
}

// DialMQTT connects to broker and returns a sink publishing under prefix
func DialMQTT(broker, clientID, prefix string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(DefaultMQTTTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(DefaultMQTTTimeout) {
		return nil, fmt.Errorf("timeout connecting to MQTT broker %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, err)
	}

	s := NewMQTTSink(client, prefix)
	s.closeFn = func() { client.Disconnect(250) }
	return s, nil
}

// NewMQTTSink publishes through an already connected client
func NewMQTTSink(client mqttPublisher, prefix string) *MQTTSink {
	return &MQTTSink{
		client:  client,
		prefix:  prefix,
		timeout: DefaultMQTTTimeout,
	}
}

// Topic returns the topic a record from anchor is published on
func (s *MQTTSink) Topic(anchor uint16) string {
	return fmt.Sprintf("%s/%d", s.prefix, anchor)
}

// Write implements Sink
func (s *MQTTSink) Write(r Record) error {
	body, err := json.Marshal(mqttPayload{
		Timestamp:  r.Timestamp,
		AnchorAddr: r.AnchorAddr,
		Range:      r.Range,
		Source:     r.Source,
		Received:   r.Received.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	token := s.client.Publish(s.Topic(r.AnchorAddr), s.qos, false, body)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("timeout publishing range from anchor %d", r.AnchorAddr)
	}
	return token.Error()
}

// Close implements Sink
func (s *MQTTSink) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
