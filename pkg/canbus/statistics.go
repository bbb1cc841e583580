// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package canbus

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Statistics tracks received frame counts and rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames    uint64
	StandardFrames uint64
	ExtendedFrames uint64
	RemoteFrames   uint64
	ReceiveErrors  uint64
	PerID          map[uint32]uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec

	lastFrames uint64
	lastErrors uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		PerID:          make(map[uint32]uint64),
	}
}

// Update records a received frame, or a receive error when err is non-nil
func (s *Statistics) Update(f Frame, err error) {
	if err != nil {
		s.ReceiveErrors++
		return
	}

	s.TotalFrames++
	switch {
	case f.Remote:
		s.RemoteFrames++
	case f.Extended:
		s.ExtendedFrames++
	default:
		s.StandardFrames++
	}
	s.PerID[f.ID]++
}

// CalculateRates updates frame and error rates since the previous call
func (s *Statistics) CalculateRates() {
	now := time.Now()
	elapsed := now.Sub(s.LastUpdateTime).Seconds()
	if elapsed <= 0 {
		return
	}

	s.FrameRate = float64(s.TotalFrames-s.lastFrames) / elapsed
	s.ErrorRate = float64(s.ReceiveErrors-s.lastErrors) / elapsed

	s.lastFrames = s.TotalFrames
	s.lastErrors = s.ReceiveErrors
	s.LastUpdateTime = now
}

// TopIDs returns up to n identifiers ordered by frame count, busiest first
func (s *Statistics) TopIDs(n int) []uint32 {
	ids := make([]uint32, 0, len(s.PerID))
	for id := range s.PerID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if s.PerID[ids[i]] != s.PerID[ids[j]] {
			return s.PerID[ids[i]] > s.PerID[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// Format returns a multi-line summary
func (s *Statistics) Format() string {
	var sb strings.Builder
	runtime := time.Since(s.StartTime).Truncate(time.Second)

	fmt.Fprintf(&sb, "--- Bus statistics (%s) ---\n", runtime)
	fmt.Fprintf(&sb, "Frames:   %d (std %d, ext %d, rtr %d)\n", s.TotalFrames, s.StandardFrames, s.ExtendedFrames, s.RemoteFrames)
	fmt.Fprintf(&sb, "Errors:   %d\n", s.ReceiveErrors)
	fmt.Fprintf(&sb, "Rate:     %.1f frames/sec, %.1f errors/sec\n", s.FrameRate, s.ErrorRate)
	for _, id := range s.TopIDs(5) {
		fmt.Fprintf(&sb, "  ID 0x%X: %d\n", id, s.PerID[id])
	}
	return sb.String()
}
