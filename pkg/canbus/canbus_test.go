// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package canbus

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/brutella/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Frame Tests
// ============================================================

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(0x123, false, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123), f.ID)
	assert.Equal(t, uint8(3), f.Length)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload())
	assert.Equal(t, "123#010203", f.String())
}

func TestNewFrame_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		id       uint32
		extended bool
		data     []byte
	}{
		{"data too long", 0x10, false, make([]byte, 9)},
		{"standard id too large", 0x800, false, nil},
		{"extended id too large", 0x20000000, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrame(tt.id, tt.extended, tt.data)
			assert.Error(t, err)
		})
	}
}

func TestFrameString_ExtendedAndRemote(t *testing.T) {
	f := MustFrame(0x1ABCDE, true, []byte{0xFF})
	assert.Equal(t, "001ABCDE#FF", f.String())

	f = Frame{ID: 0x7F, Remote: true, Length: 2}
	assert.Equal(t, "07F#R2", f.String())
}

func TestSocketCANConversion(t *testing.T) {
	cf := can.Frame{ID: 0x1000547F | flagExtended, Length: 3, Data: [8]uint8{9, 8, 7}}
	f := fromSocketCAN(cf)
	assert.True(t, f.Extended)
	assert.False(t, f.Remote)
	assert.Equal(t, uint32(0x1000547F), f.ID)
	assert.Equal(t, []byte{9, 8, 7}, f.Payload())

	back := toSocketCAN(f)
	assert.Equal(t, cf.ID, back.ID)
	assert.Equal(t, cf.Length, back.Length)
	assert.Equal(t, cf.Data, back.Data)

	std := fromSocketCAN(can.Frame{ID: 0x85, Length: 0})
	assert.False(t, std.Extended)
	assert.Equal(t, uint32(0x85), std.ID)
}

// ============================================================
// SLCAN Tests
// ============================================================

func TestParseSLCAN(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Frame
	}{
		{
			name: "standard data frame",
			line: "t0853AABBCC",
			want: Frame{ID: 0x085, Length: 3, Data: [8]byte{0xAA, 0xBB, 0xCC}},
		},
		{
			name: "extended data frame",
			line: "T1000547F20102",
			want: Frame{ID: 0x1000547F, Extended: true, Length: 2, Data: [8]byte{0x01, 0x02}},
		},
		{
			name: "standard remote frame",
			line: "r1234",
			want: Frame{ID: 0x123, Remote: true, Length: 4},
		},
		{
			name: "extended remote frame",
			line: "R000000010",
			want: Frame{ID: 0x1, Extended: true, Remote: true, Length: 0},
		},
		{
			name: "with adapter timestamp",
			line: "t000100BEEF",
			want: Frame{ID: 0x000, Length: 1, Data: [8]byte{0x00}},
		},
		{
			name: "zero length",
			line: "t7FF0",
			want: Frame{ID: 0x7FF, Length: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseSLCAN(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f)
		})
	}
}

func TestParseSLCAN_Invalid(t *testing.T) {
	for _, line := range []string{
		"",
		"x123",
		"t12",
		"t1239",
		"tG001",
		"t8001",
		"t1232AA",
		"t1231AAX",
		"t1231AA12",
		"t00010012BEEF", // six digit tail is not a timestamp
		"T2000000010",
	} {
		t.Run(line, func(t *testing.T) {
			_, err := ParseSLCAN(line)
			assert.Error(t, err)
		})
	}
}

func TestEncodeSLCAN(t *testing.T) {
	assert.Equal(t, "t0853AABBCC\r", string(EncodeSLCAN(MustFrame(0x85, false, []byte{0xAA, 0xBB, 0xCC}))))
	assert.Equal(t, "T1000547F0\r", string(EncodeSLCAN(MustFrame(0x1000547F, true, nil))))
	assert.Equal(t, "r1232\r", string(EncodeSLCAN(Frame{ID: 0x123, Remote: true, Length: 2})))
	assert.Equal(t, "R000000FF1\r", string(EncodeSLCAN(Frame{ID: 0xFF, Extended: true, Remote: true, Length: 1})))
}

func TestSLCANDecoder_Stream(t *testing.T) {
	d := NewSLCANDecoder()
	stream := "\rz\rt0812CAFE\rZ\rT1000547F10A\r"

	var frames []Frame
	for i := 0; i < len(stream); i++ {
		f, err := d.DecodeByte(stream[i])
		require.NoError(t, err)
		if f != nil {
			frames = append(frames, *f)
		}
	}

	require.Len(t, frames, 2)
	assert.Equal(t, uint32(0x81), frames[0].ID)
	assert.Equal(t, []byte{0xCA, 0xFE}, frames[0].Payload())
	assert.Equal(t, uint32(0x1000547F), frames[1].ID)
	assert.True(t, frames[1].Extended)
}

func TestSLCANDecoder_ErrorsAndResync(t *testing.T) {
	d := NewSLCANDecoder()

	// Bell aborts the current line
	for _, b := range []byte("t08") {
		_, _ = d.DecodeByte(b)
	}
	_, err := d.DecodeByte(slcanBell)
	assert.Error(t, err)

	// Overlong line is rejected at CR
	for _, b := range []byte(strings.Repeat("A", MaxSLCANLineSize+5)) {
		f, err := d.DecodeByte(b)
		require.NoError(t, err)
		require.Nil(t, f)
	}
	_, err = d.DecodeByte(slcanCR)
	assert.Error(t, err)

	// Next line decodes normally
	var got *Frame
	for _, b := range []byte("t0011FF\r") {
		got, err = d.DecodeByte(b)
		require.NoError(t, err)
	}
	require.NotNil(t, got)
	assert.Equal(t, []byte{0xFF}, got.Payload())
}

func TestSLCANSetupCommands(t *testing.T) {
	cmds, err := SLCANSetupCommands(1000000)
	require.NoError(t, err)
	assert.Equal(t, "C\rS8\rO\r", string(cmds))

	_, err = SLCANSetupCommands(12345)
	assert.Error(t, err)
}

// ============================================================
// Bridge Codec Tests
// ============================================================

func TestBridgeFrames(t *testing.T) {
	a := MustFrame(0x085, false, []byte{1, 2, 3})
	b := MustFrame(0x1000547F, true, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 1, 2, 3})

	encoded := EncodeBridgeFrame(a)
	require.Len(t, encoded, BridgeFrameSize)
	assert.Equal(t, byte(0x83), encoded[0])
	assert.Equal(t, []byte{0, 0, 0, 0x85}, encoded[1:5])

	msg := append(encoded, EncodeBridgeFrame(b)...)
	frames, err := DecodeBridgeFrames(msg)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, a, frames[0])
	assert.Equal(t, b, frames[1])
}

func TestDecodeBridgeFrames_Invalid(t *testing.T) {
	_, err := DecodeBridgeFrames(nil)
	assert.Error(t, err)

	_, err = DecodeBridgeFrames(make([]byte, 12))
	assert.Error(t, err)

	// Missing valid bit
	_, err = DecodeBridgeFrames(make([]byte, BridgeFrameSize))
	assert.Error(t, err)

	bad := make([]byte, BridgeFrameSize)
	bad[0] = 0x89
	_, err = DecodeBridgeFrames(bad)
	assert.Error(t, err)
}

// ============================================================
// Pipe Tests
// ============================================================

func TestPipe(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, MustFrame(0x10, false, []byte("hi"))))

	f, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), f.Payload())
}

func TestPipe_ReceiveHonoursContext(t *testing.T) {
	_, b := NewPipe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipe_Closed(t *testing.T) {
	a, b := NewPipe()
	require.NoError(t, b.Close())

	_, err := b.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	err = a.Send(context.Background(), MustFrame(0x10, false, nil))
	assert.ErrorIs(t, err, ErrClosed)
}

// ============================================================
// Formatter / Statistics Tests
// ============================================================

func TestFormatFrame(t *testing.T) {
	f := MustFrame(0x085, false, []byte("OK!"))
	f.Timestamp = time.Date(2025, 1, 1, 13, 14, 15, 16000000, time.UTC)

	out := FormatFrame(f)
	assert.True(t, strings.HasPrefix(out, "[13:14:15.016] STD 0x085 len=3"))
	assert.Contains(t, out, "4F 4B 21")
	assert.Contains(t, out, "|OK!|")

	f = Frame{ID: 0x1234, Extended: true, Remote: true, Length: 1}
	assert.Contains(t, FormatFrame(f), "EXT 0x00001234 RTR len=1")
}

func TestStatistics(t *testing.T) {
	s := NewStatistics()
	s.Update(MustFrame(0x10, false, nil), nil)
	s.Update(MustFrame(0x10, false, nil), nil)
	s.Update(MustFrame(0x20, true, nil), nil)
	s.Update(Frame{ID: 0x30, Remote: true}, nil)
	s.Update(Frame{}, assert.AnError)

	assert.Equal(t, uint64(4), s.TotalFrames)
	assert.Equal(t, uint64(2), s.StandardFrames)
	assert.Equal(t, uint64(1), s.ExtendedFrames)
	assert.Equal(t, uint64(1), s.RemoteFrames)
	assert.Equal(t, uint64(1), s.ReceiveErrors)
	assert.Equal(t, []uint32{0x10, 0x20}, s.TopIDs(2))
	assert.Contains(t, s.Format(), "Frames:   4")
}
