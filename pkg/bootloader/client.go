// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package bootloader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/cvra/canlink/pkg/datagram"
	"github.com/rs/zerolog"
)

// Client defaults
const (
	HostAddress        = 0
	DefaultPingTimeout = 200 * time.Millisecond
	DefaultStaleAfter  = 5 * time.Second
)

// Reply errors
var (
	ErrMissingReplies = errors.New("missing replies")
	ErrBadReply       = errors.New("bad reply")
)

// Client sends bootloader commands and reads the replies
type Client struct {
	bus         canbus.Bus
	reader      *datagram.Reader
	source      uint8
	pingTimeout time.Duration
	staleAfter  time.Duration
	log         zerolog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithSource sets the address the client sends from
func WithSource(addr uint8) ClientOption {
	return func(c *Client) {
		c.source = addr
	}
}

// WithPingTimeout sets how long Ping waits for an answer
func WithPingTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pingTimeout = d
	}
}

// WithStaleAfter sets how long a partial reply may stay idle before it is dropped
func WithStaleAfter(d time.Duration) ClientOption {
	return func(c *Client) {
		c.staleAfter = d
	}
}

// WithLogger sets the logger used for diagnostics
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a bootloader client on bus
func NewClient(bus canbus.Bus, opts ...ClientOption) *Client {
	c := &Client{
		bus:         bus,
		reader:      datagram.NewReader(bus),
		source:      HostAddress,
		pingTimeout: DefaultPingTimeout,
		staleAfter:  DefaultStaleAfter,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WriteCommand sends an encoded command to the given boards
func (c *Client) WriteCommand(ctx context.Context, command []byte, destinations []uint8) error {
	c.log.Debug().Int("bytes", len(command)).Ints("destinations", toInts(destinations)).Msg("sending command")
	return datagram.Write(ctx, c.bus, command, destinations, c.source)
}

// readReply returns the next datagram, dropping partial replies left over from earlier exchanges
func (c *Client) readReply(ctx context.Context) (datagram.Message, error) {
	if n := c.reader.Evict(c.staleAfter); n > 0 {
		c.log.Debug().Int("buffers", n).Msg("dropped stale partial replies")
	}
	return c.reader.ReadDatagram(ctx)
}

// Ping checks whether a board answers at addr.
// A board that stays silent for the ping timeout is reported as absent, not as an error.
func (c *Client) Ping(ctx context.Context, addr uint8) (bool, error) {
	cmd, err := EncodePing()
	if err != nil {
		return false, err
	}
	if err := c.WriteCommand(ctx, cmd, []uint8{addr}); err != nil {
		return false, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	for {
		msg, err := c.readReply(pingCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				if c.reader.Discard(addr) {
					c.log.Debug().Uint8("board", addr).Msg("dropped partial reply")
				}
				return false, nil
			}
			if errors.Is(err, datagram.ErrCRCMismatch) || errors.Is(err, datagram.ErrInvalidVersion) {
				c.log.Warn().Err(err).Uint8("board", addr).Msg("ignoring corrupt reply")
				continue
			}
			return false, err
		}
		if msg.Source != addr {
			c.log.Debug().Uint8("board", msg.Source).Msg("ignoring reply from another board")
			continue
		}

		ok, err := DecodeBool(msg.Data)
		if err != nil {
			return false, fmt.Errorf("%w from board %d: %w", ErrBadReply, addr, err)
		}
		return ok, nil
	}
}

// Scan pings every address in [first, last] and returns the boards that answered
func (c *Client) Scan(ctx context.Context, first, last uint8) ([]uint8, error) {
	var found []uint8
	for addr := int(first); addr <= int(last); addr++ {
		ok, err := c.Ping(ctx, uint8(addr))
		if err != nil {
			return found, fmt.Errorf("ping %d: %w", addr, err)
		}
		if ok {
			c.log.Info().Int("board", addr).Msg("board answered")
			found = append(found, uint8(addr))
		}
	}
	return found, nil
}

// ReadConfigs asks every board in ids for its configuration and waits for one
// reply per board. On timeout the configs received so far are returned along
// with an error naming the boards that did not answer. A board whose reply
// cannot be decoded is reported with ErrBadReply once the others are read.
func (c *Client) ReadConfigs(ctx context.Context, ids []uint8) (map[uint8]map[string]interface{}, error) {
	configs := make(map[uint8]map[string]interface{}, len(ids))
	if len(ids) == 0 {
		return configs, nil
	}

	cmd, err := EncodeReadConfig()
	if err != nil {
		return nil, err
	}
	if err := c.WriteCommand(ctx, cmd, ids); err != nil {
		return nil, err
	}

	expected := make(map[uint8]bool, len(ids))
	for _, id := range ids {
		expected[id] = true
	}

	var replyErrs []error
	for len(configs) < len(expected) {
		msg, err := c.readReply(ctx)
		if err != nil {
			if errors.Is(err, datagram.ErrCRCMismatch) || errors.Is(err, datagram.ErrInvalidVersion) {
				c.log.Warn().Err(err).Msg("ignoring corrupt reply")
				continue
			}
			if ctx.Err() != nil {
				absent := missing(expected, configs)
				for _, id := range absent {
					c.reader.Discard(id)
				}
				replyErrs = append(replyErrs, fmt.Errorf("%w from boards %v: %w", ErrMissingReplies, absent, err))
				return configs, errors.Join(replyErrs...)
			}
			return configs, err
		}

		if !expected[msg.Source] {
			c.log.Debug().Uint8("board", msg.Source).Msg("ignoring reply from unexpected board")
			continue
		}

		cfg, err := DecodeConfig(msg.Data)
		if err != nil {
			c.log.Warn().Err(err).Uint8("board", msg.Source).Msg("undecodable config")
			replyErrs = append(replyErrs, fmt.Errorf("%w from board %d: %w", ErrBadReply, msg.Source, err))
			delete(expected, msg.Source)
			continue
		}
		configs[msg.Source] = cfg
		c.log.Debug().Uint8("board", msg.Source).Int("keys", len(cfg)).Msg("config received")
	}

	return configs, errors.Join(replyErrs...)
}

func missing(expected map[uint8]bool, got map[uint8]map[string]interface{}) []uint8 {
	var ids []uint8
	for id := range expected {
		if _, ok := got[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func toInts(ids []uint8) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
