// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package rangelog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/cvra/canlink/pkg/uavcan"
)

// ============================================================
// Test Helpers
// ============================================================

type scriptedReceiver struct {
	steps []step
}

type step struct {
	transfer uavcan.Transfer
	err      error
}

func (r *scriptedReceiver) Receive(ctx context.Context) (uavcan.Transfer, error) {
	if len(r.steps) == 0 {
		return uavcan.Transfer{}, canbus.ErrClosed
	}
	s := r.steps[0]
	r.steps = r.steps[1:]
	return s.transfer, s.err
}

func rangeTransfer(t *testing.T, anchor uint16, rng float32) step {
	t.Helper()
	payload, err := uavcan.RadioRange{Timestamp: 1000 + uint64(anchor), AnchorAddr: anchor, Range: rng}.MarshalBinary()
	require.NoError(t, err)
	return step{transfer: uavcan.Transfer{Source: 20, Payload: payload, Timestamp: time.Unix(100, 0)}}
}

type collectSink struct {
	records []Record
	closed  bool
}

func (s *collectSink) Write(r Record) error {
	s.records = append(s.records, r)
	return nil
}

func (s *collectSink) Close() error {
	s.closed = true
	return nil
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.messages = append(p.messages, published{topic: topic, payload: payload.([]byte)})
	return &fakeToken{err: p.err}
}

// ============================================================
// Logger Tests
// ============================================================

func TestLogger_WritesRecords(t *testing.T) {
	rx := &scriptedReceiver{steps: []step{
		rangeTransfer(t, 1, 1.5),
		rangeTransfer(t, 2, 2.25),
	}}
	sink := &collectSink{}
	l := NewLogger(rx, sink)

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, canbus.ErrClosed)

	require.Len(t, sink.records, 2)
	assert.Equal(t, uint16(1), sink.records[0].AnchorAddr)
	assert.Equal(t, float32(1.5), sink.records[0].Range)
	assert.Equal(t, uint64(1001), sink.records[0].Timestamp)
	assert.Equal(t, uint8(20), sink.records[0].Source)
	assert.Equal(t, time.Unix(100, 0), sink.records[0].Received)
	assert.Equal(t, Stats{Received: 2}, l.Stats())
}

func TestLogger_AnchorFilter(t *testing.T) {
	rx := &scriptedReceiver{steps: []step{
		rangeTransfer(t, 1, 1.5),
		rangeTransfer(t, 7, 2.0),
		rangeTransfer(t, 1, 3.0),
	}}
	sink := &collectSink{}
	l := NewLogger(rx, sink, WithAnchor(7))

	_ = l.Run(context.Background())

	require.Len(t, sink.records, 1)
	assert.Equal(t, uint16(7), sink.records[0].AnchorAddr)
	assert.Equal(t, Stats{Received: 1, Filtered: 2}, l.Stats())
}

func TestLogger_SkipsCorruptTransfers(t *testing.T) {
	rx := &scriptedReceiver{steps: []step{
		{err: fmt.Errorf("transfer from 3: %w", uavcan.ErrCRCMismatch)},
		{transfer: uavcan.Transfer{Source: 3, Payload: []byte{1, 2}}},
		rangeTransfer(t, 4, 4.0),
	}}
	sink := &collectSink{}
	l := NewLogger(rx, sink)

	_ = l.Run(context.Background())

	require.Len(t, sink.records, 1)
	assert.Equal(t, Stats{Received: 1, Dropped: 2}, l.Stats())
}

func TestLogger_SinkErrorIsWrapped(t *testing.T) {
	diskFull := errors.New("disk full")
	rx := &scriptedReceiver{steps: []step{rangeTransfer(t, 1, 1.5)}}
	l := NewLogger(rx, SinkFunc(func(Record) error { return diskFull }))

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, ErrSinkWrite)
	assert.ErrorIs(t, err, diskFull)
	assert.NotErrorIs(t, err, canbus.ErrClosed)
	assert.Equal(t, Stats{}, l.Stats())
}

func TestLogger_CancelIsNotAnError(t *testing.T) {
	host, _ := canbus.NewPipe()
	sub := uavcan.NewSubscriber(host, uavcan.DefaultRadioRangeDataTypeID)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, NewLogger(sub, &collectSink{}).Run(ctx))
}

func TestLogger_EndToEnd(t *testing.T) {
	host, node := canbus.NewPipe()
	sub := uavcan.NewSubscriber(host, uavcan.DefaultRadioRangeDataTypeID)

	var out bytes.Buffer
	sink := NewConsoleSink(&out)

	payload, _ := uavcan.RadioRange{Timestamp: 5, AnchorAddr: 3, Range: 1.23456}.MarshalBinary()
	for _, f := range uavcan.EncodeTransfer(uavcan.PriorityMedium, uavcan.DefaultRadioRangeDataTypeID, 20, 0, 0, payload) {
		require.NoError(t, node.Send(context.Background(), f))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, NewLogger(sub, sink).Run(ctx))

	assert.Equal(t, "Received a range from 3: 1.235\n", out.String())
}

// ============================================================
// Sink Tests
// ============================================================

func TestCSVSink(t *testing.T) {
	var out bytes.Buffer
	sink, err := NewCSVSink(&out)
	require.NoError(t, err)
	assert.Equal(t, "ts,anchor_addr,range\n", out.String())

	require.NoError(t, sink.Write(Record{Timestamp: 123456, AnchorAddr: 4, Range: 2.5}))
	// Rows are flushed immediately
	assert.Equal(t, "ts,anchor_addr,range\n123456,4,2.5\n", out.String())

	require.NoError(t, sink.Write(Record{Timestamp: 7, AnchorAddr: 1, Range: 0.1}))
	require.NoError(t, sink.Close())
	assert.Equal(t, "ts,anchor_addr,range\n123456,4,2.5\n7,1,0.1\n", out.String())
}

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, "beacons/range")

	rec := Record{Timestamp: 99, AnchorAddr: 12, Range: 3.5, Source: 20, Received: time.Unix(0, 0)}
	require.NoError(t, sink.Write(rec))

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "beacons/range/12", pub.messages[0].topic)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.messages[0].payload, &body))
	assert.Equal(t, float64(99), body["ts"])
	assert.Equal(t, float64(12), body["anchor_addr"])
	assert.Equal(t, 3.5, body["range"])
	assert.Equal(t, "1970-01-01T00:00:00Z", body["received"])

	pub.err = errors.New("broker gone")
	assert.Error(t, sink.Write(rec))
	assert.NoError(t, sink.Close())
}

func TestMultiSink(t *testing.T) {
	a, b := &collectSink{}, &collectSink{}
	failing := SinkFunc(func(Record) error { return errors.New("disk full") })
	m := MultiSink{a, failing, b}

	err := m.Write(Record{AnchorAddr: 1})
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, a.records, 1)
	assert.Len(t, b.records, 1)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
