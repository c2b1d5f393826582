// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import "github.com/jeranaias/usagepulse/internal/model"

// DefaultBufferSize is the default ingestion buffer capacity.
const DefaultBufferSize = 1000

// Buffer holds raw events in arrival order, evicting the oldest on overflow.
// It is not safe for concurrent use; the Store serialises access.
type Buffer struct {
	q *boundedQueue[model.MetricEvent]
}

// NewBuffer creates a buffer. A non-positive capacity selects the default.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{q: newBoundedQueue[model.MetricEvent](capacity)}
}

// Append inserts events in order and returns the number evicted.
func (b *Buffer) Append(events ...model.MetricEvent) int {
	return b.q.push(events...)
}

// Items returns a copy of the buffered events, oldest first.
func (b *Buffer) Items() []model.MetricEvent {
	return b.q.snapshot()
}

// View returns the live backing slice. Callers must not retain or modify it.
func (b *Buffer) View() []model.MetricEvent {
	return b.q.items
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int { return b.q.len() }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return b.q.capacity }

// Reset empties the buffer.
func (b *Buffer) Reset() { b.q.reset() }
