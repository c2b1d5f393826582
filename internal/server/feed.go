// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"sync"
	"time"

	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/telemetry"
)

const (
	// DefaultRetention is the number of recent events kept for polling.
	DefaultRetention = 10000

	// InitialPollSize is returned to a poll without a cursor.
	InitialPollSize = 50

	// MaxPollSize caps a single poll response.
	MaxPollSize = 500
)

// Feed retains the most recent generated events for polling clients.
type Feed struct {
	mu  sync.RWMutex
	buf *telemetry.Buffer
}

// NewFeed creates a feed keeping up to retention events.
func NewFeed(retention int) *Feed {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Feed{buf: telemetry.NewBuffer(retention)}
}

// Append adds a batch, evicting the oldest events beyond retention.
func (f *Feed) Append(events []model.MetricEvent) {
	f.mu.Lock()
	f.buf.Append(events...)
	f.mu.Unlock()
}

// Len returns the number of retained events.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.buf.Len()
}

// Since returns events strictly after since, or the last InitialPollSize
// events when since is nil. At most MaxPollSize of the newest matches are
// returned, oldest first.
func (f *Feed) Since(since *time.Time) []model.MetricEvent {
	f.mu.RLock()
	view := f.buf.View()
	var out []model.MetricEvent
	if since == nil {
		out = tail(view, InitialPollSize)
	} else {
		// View is in arrival order, which is timestamp order.
		start := len(view)
		for start > 0 && view[start-1].Timestamp.After(*since) {
			start--
		}
		out = tail(view[start:], MaxPollSize)
	}
	result := make([]model.MetricEvent, len(out))
	copy(result, out)
	f.mu.RUnlock()
	return result
}

func tail(events []model.MetricEvent, n int) []model.MetricEvent {
	if len(events) > n {
		return events[len(events)-n:]
	}
	return events
}
