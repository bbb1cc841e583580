// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package uavcan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/cvra/canlink/pkg/reassembly"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSignature uint64 = 0x1234567890ABCDEF

// ============================================================
// Identifier and Tail Tests
// ============================================================

func TestMessageID(t *testing.T) {
	raw := MessageID(PriorityLow, NodeStatusDataTypeID, 127)
	assert.Equal(t, uint32(0x1801557F), raw)

	id := ParseID(raw)
	assert.Equal(t, PriorityLow, id.Priority)
	assert.Equal(t, NodeStatusDataTypeID, id.DataTypeID)
	assert.Equal(t, uint8(127), id.Source)
	assert.False(t, id.Service)
}

func TestParseID_Service(t *testing.T) {
	raw := uint32(16)<<24 | 0x30<<16 | 1<<15 | 5<<8 | serviceFlag | 10
	id := ParseID(raw)

	assert.True(t, id.Service)
	assert.True(t, id.Request)
	assert.Equal(t, uint16(0x30), id.DataTypeID)
	assert.Equal(t, uint8(5), id.Dest)
	assert.Equal(t, uint8(10), id.Source)
	assert.Equal(t, uint8(16), id.Priority)
}

func TestTail(t *testing.T) {
	seq := ParseTail(0xC5)
	assert.Equal(t, reassembly.SequenceInfo{Start: true, End: true, TransferID: 5}, seq)

	seq = ParseTail(0x3F)
	assert.Equal(t, reassembly.SequenceInfo{Toggle: true, TransferID: 31}, seq)

	for b := 0; b < 256; b++ {
		assert.Equal(t, byte(b), TailByte(ParseTail(byte(b))))
	}
}

// ============================================================
// CRC Tests
// ============================================================

func TestCRCCheckValue(t *testing.T) {
	assert.Equal(t, uint16(0x29B1), crcAdd(crcInitial, []byte("123456789")))
}

func TestTransferCRC_SeededBySignature(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	a := TransferCRC(testSignature, payload)
	b := TransferCRC(testSignature+1, payload)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, TransferCRC(testSignature, payload))
}

// ============================================================
// Encoding Tests
// ============================================================

func TestEncodeTransfer_SingleFrame(t *testing.T) {
	frames := EncodeTransfer(PriorityMedium, 100, 10, 3, testSignature, []byte{0xAA, 0xBB, 0xCC})
	require.Len(t, frames, 1)

	f := frames[0]
	assert.True(t, f.Extended)
	assert.Equal(t, MessageID(PriorityMedium, 100, 10), f.ID)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xC3}, f.Payload())
}

func TestEncodeTransfer_MultiFrame(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	frames := EncodeTransfer(PriorityMedium, 100, 10, 7, testSignature, payload)
	require.Len(t, frames, 3)

	crc := TransferCRC(testSignature, payload)
	assert.Equal(t, []byte{byte(crc), byte(crc >> 8), 1, 2, 3, 4, 5, 0x87}, frames[0].Payload())
	assert.Equal(t, []byte{6, 7, 8, 9, 10, 11, 12, 0x27}, frames[1].Payload())
	assert.Equal(t, []byte{13, 0x47}, frames[2].Payload())
}

// ============================================================
// Subscriber Tests
// ============================================================

func sendAll(t *testing.T, bus canbus.Bus, frames []canbus.Frame) {
	t.Helper()
	for _, f := range frames {
		require.NoError(t, bus.Send(context.Background(), f))
	}
}

func receiveCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubscriber_RadioRange(t *testing.T) {
	host, node := canbus.NewPipe()
	sub := NewSubscriber(host, DefaultRadioRangeDataTypeID, WithSignature(testSignature))

	msg := RadioRange{Timestamp: 123456789, AnchorAddr: 42, Range: 3.25}
	payload, err := msg.MarshalBinary()
	require.NoError(t, err)
	sendAll(t, node, EncodeTransfer(PriorityMedium, DefaultRadioRangeDataTypeID, 20, 9, testSignature, payload))

	transfer, err := sub.Receive(receiveCtx(t))
	require.NoError(t, err)
	assert.Equal(t, uint8(20), transfer.Source)
	assert.Equal(t, uint8(9), transfer.TransferID)
	assert.Equal(t, PriorityMedium, transfer.Priority)
	assert.Equal(t, 3, transfer.Frames)

	var got RadioRange
	require.NoError(t, got.UnmarshalBinary(transfer.Payload))
	assert.Equal(t, msg, got)
}

func TestSubscriber_SingleFrame(t *testing.T) {
	host, node := canbus.NewPipe()
	sub := NewSubscriber(host, 100, WithSignature(testSignature))

	sendAll(t, node, EncodeTransfer(PriorityMedium, 100, 4, 0, testSignature, []byte("hi")))

	transfer, err := sub.Receive(receiveCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), transfer.Payload)
	assert.Equal(t, 1, transfer.Frames)
}

func TestSubscriber_FiltersOtherTraffic(t *testing.T) {
	host, node := canbus.NewPipe()
	sub := NewSubscriber(host, 100)

	// Standard frame, other data type, service frame, remote frame
	sendAll(t, node, []canbus.Frame{canbus.MustFrame(0x123, false, []byte{0xC0})})
	sendAll(t, node, EncodeTransfer(PriorityMedium, 101, 4, 0, 0, []byte("no")))
	sendAll(t, node, []canbus.Frame{canbus.MustFrame(uint32(100)<<16|serviceFlag|4, true, []byte{0xC0})})
	remote := canbus.MustFrame(MessageID(PriorityMedium, 100, 4), true, nil)
	remote.Remote = true
	sendAll(t, node, []canbus.Frame{remote})

	sendAll(t, node, EncodeTransfer(PriorityMedium, 100, 4, 1, 0, []byte("yes")))

	transfer, err := sub.Receive(receiveCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), transfer.Payload)
}

func TestSubscriber_Interleaved(t *testing.T) {
	host, node := canbus.NewPipe()
	sub := NewSubscriber(host, DefaultRadioRangeDataTypeID, WithSignature(testSignature))

	a, _ := RadioRange{Timestamp: 1, AnchorAddr: 1, Range: 1}.MarshalBinary()
	b, _ := RadioRange{Timestamp: 2, AnchorAddr: 2, Range: 2}.MarshalBinary()
	fa := EncodeTransfer(PriorityMedium, DefaultRadioRangeDataTypeID, 10, 0, testSignature, a)
	fb := EncodeTransfer(PriorityMedium, DefaultRadioRangeDataTypeID, 11, 0, testSignature, b)

	for i := range fa {
		sendAll(t, node, []canbus.Frame{fa[i], fb[i]})
	}

	ctx := receiveCtx(t)
	first, err := sub.Receive(ctx)
	require.NoError(t, err)
	second, err := sub.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint8(10), first.Source)
	assert.Equal(t, a, first.Payload)
	assert.Equal(t, uint8(11), second.Source)
	assert.Equal(t, b, second.Payload)
}

func TestSubscriber_CRCMismatch(t *testing.T) {
	host, node := canbus.NewPipe()
	sub := NewSubscriber(host, DefaultRadioRangeDataTypeID, WithSignature(testSignature))

	payload, _ := RadioRange{Timestamp: 5, AnchorAddr: 7, Range: 1.5}.MarshalBinary()
	frames := EncodeTransfer(PriorityMedium, DefaultRadioRangeDataTypeID, 20, 0, testSignature, payload)
	frames[1].Data[0] ^= 0xFF
	sendAll(t, node, frames)

	_, err := sub.Receive(receiveCtx(t))
	assert.ErrorIs(t, err, ErrCRCMismatch)

	// The subscriber keeps working after a corrupt transfer
	sendAll(t, node, EncodeTransfer(PriorityMedium, DefaultRadioRangeDataTypeID, 20, 1, testSignature, payload))
	transfer, err := sub.Receive(receiveCtx(t))
	require.NoError(t, err)
	assert.Equal(t, payload, transfer.Payload)
}

func TestSubscriber_NoSignatureSkipsCheck(t *testing.T) {
	host, node := canbus.NewPipe()
	sub := NewSubscriber(host, DefaultRadioRangeDataTypeID)

	payload, _ := RadioRange{Timestamp: 5, AnchorAddr: 7, Range: 1.5}.MarshalBinary()
	frames := EncodeTransfer(PriorityMedium, DefaultRadioRangeDataTypeID, 20, 0, testSignature, payload)
	frames[0].Data[0] ^= 0xFF // corrupt the CRC itself
	sendAll(t, node, frames)

	transfer, err := sub.Receive(receiveCtx(t))
	require.NoError(t, err)
	assert.Equal(t, payload, transfer.Payload)
}

func TestSubscriber_BusError(t *testing.T) {
	host, _ := canbus.NewPipe()
	sub := NewSubscriber(host, 100)
	require.NoError(t, host.Close())

	_, err := sub.Receive(receiveCtx(t))
	assert.True(t, errors.Is(err, canbus.ErrClosed))
}

// ============================================================
// Message Tests
// ============================================================

func TestRadioRangeEncoding(t *testing.T) {
	msg := RadioRange{Timestamp: 0x01020304050607, AnchorAddr: 0x0203, Range: 1.5}
	data, err := msg.MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01, // timestamp
		0x03, 0x02, // anchor
		0x00, 0x00, 0xC0, 0x3F, // range
	}, data)

	var short RadioRange
	assert.Error(t, short.UnmarshalBinary(data[:12]))
}

func TestNodeStatusEncoding(t *testing.T) {
	status := NodeStatus{Uptime: 0x0A, Health: HealthWarning, Mode: ModeMaintenance, SubMode: 1, VendorStatus: 0xBEEF}
	data, err := status.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0, 0, 0, 0x51, 0xEF, 0xBE}, data)

	var got NodeStatus
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, status, got)

	prefix := []byte{0xFF}
	appended := status.AppendBinary(prefix)
	assert.Equal(t, append([]byte{0xFF}, data...), appended)
	assert.Len(t, status.AppendBinary(nil), NodeStatusSize)
}

func TestHeartbeat(t *testing.T) {
	host, node := canbus.NewPipe()
	sub := NewSubscriber(node, NodeStatusDataTypeID, WithSignature(NodeStatusSignature))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Heartbeat(ctx, host, 127, 10*time.Millisecond, zerolog.Nop())
	}()

	rctx := receiveCtx(t)
	for i := 0; i < 2; i++ {
		transfer, err := sub.Receive(rctx)
		require.NoError(t, err)
		assert.Equal(t, uint8(127), transfer.Source)
		assert.Equal(t, uint8(i), transfer.TransferID)

		var status NodeStatus
		require.NoError(t, status.UnmarshalBinary(transfer.Payload))
		assert.Equal(t, ModeOperational, status.Mode)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop")
	}
}
