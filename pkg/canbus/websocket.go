// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package canbus

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// BridgeFrameSize is the size of one frame in a WebSocket bridge message
const BridgeFrameSize = 13

// Bridge frame header bits
const (
	bridgeHeaderValid    = 0x80
	bridgeHeaderExtended = 0x20
	bridgeHeaderRemote   = 0x10
	bridgeHeaderDLCMask  = 0x0F
)

// EncodeBridgeFrame serializes a frame to the 13-byte bridge format:
// header (0x80 | flags | dlc), big-endian identifier, 8 data bytes.
func EncodeBridgeFrame(f Frame) []byte {
	buf := make([]byte, BridgeFrameSize)
	header := byte(bridgeHeaderValid) | (f.Length & bridgeHeaderDLCMask)
	if f.Extended {
		header |= bridgeHeaderExtended
	}
	if f.Remote {
		header |= bridgeHeaderRemote
	}
	buf[0] = header
	binary.BigEndian.PutUint32(buf[1:5], f.ID)
	copy(buf[5:], f.Payload())
	return buf
}

// DecodeBridgeFrames parses a bridge message holding one or more frames
func DecodeBridgeFrames(msg []byte) ([]Frame, error) {
	if len(msg) == 0 || len(msg)%BridgeFrameSize != 0 {
		return nil, fmt.Errorf("invalid bridge message size %d (must be a multiple of %d)", len(msg), BridgeFrameSize)
	}

	frames := make([]Frame, 0, len(msg)/BridgeFrameSize)
	for off := 0; off < len(msg); off += BridgeFrameSize {
		raw := msg[off : off+BridgeFrameSize]
		header := raw[0]
		if header&bridgeHeaderValid == 0 {
			return nil, fmt.Errorf("invalid frame header 0x%02X", header)
		}

		f := Frame{
			Extended: header&bridgeHeaderExtended != 0,
			Remote:   header&bridgeHeaderRemote != 0,
			Length:   header & bridgeHeaderDLCMask,
			ID:       binary.BigEndian.Uint32(raw[1:5]),
		}
		if f.Length > MaxDataLength {
			return nil, fmt.Errorf("invalid DLC %d", f.Length)
		}
		copy(f.Data[:], raw[5:])
		frames = append(frames, f)
	}

	return frames, nil
}

// WebSocketBus talks to a CAN bridge over a WebSocket connection
type WebSocketBus struct {
	conn *websocket.Conn
	url  string
	q    *feed
	wmu  sync.Mutex
}

// OpenWebSocket connects to a CAN bridge with optional HTTP Basic auth
func OpenWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocketBus, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketBus(conn, wsURL), nil
}

func newWebSocketBus(conn *websocket.Conn, wsURL string) *WebSocketBus {
	w := &WebSocketBus{conn: conn, url: wsURL, q: newFeed()}
	go w.readLoop()
	return w
}

func (w *WebSocketBus) readLoop() {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if !w.q.closed() {
				w.q.fail(fmt.Errorf("WebSocket %s: %w", w.url, err))
			}
			return
		}

		// Only binary messages carry frames
		if messageType != websocket.BinaryMessage {
			continue
		}

		frames, err := DecodeBridgeFrames(data)
		if err != nil {
			continue
		}
		for _, f := range frames {
			if !w.q.push(f) {
				return
			}
		}
	}
}

// Send writes a frame as a single binary message
func (w *WebSocketBus) Send(ctx context.Context, f Frame) error {
	if w.q.closed() {
		return ErrClosed
	}

	w.wmu.Lock()
	defer w.wmu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(deadline)
		defer w.conn.SetWriteDeadline(time.Time{})
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, EncodeBridgeFrame(f)); err != nil {
		return fmt.Errorf("WebSocket %s: %w", w.url, err)
	}
	return nil
}

// Receive returns the next frame relayed by the bridge
func (w *WebSocketBus) Receive(ctx context.Context) (Frame, error) {
	return w.q.receive(ctx)
}

// Close closes the WebSocket connection
func (w *WebSocketBus) Close() error {
	w.q.close()
	return w.conn.Close()
}
