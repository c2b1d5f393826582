// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

// boundedQueue keeps at most capacity items; pushing past capacity drops
// from the front. Not safe for concurrent use.
type boundedQueue[T any] struct {
	items    []T
	capacity int
}

func newBoundedQueue[T any](capacity int) *boundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &boundedQueue[T]{
		items:    make([]T, 0, min(capacity, 64)),
		capacity: capacity,
	}
}

// push appends in order and returns how many old items were evicted.
func (q *boundedQueue[T]) push(items ...T) int {
	if len(items) == 0 {
		return 0
	}
	q.items = append(q.items, items...)
	overflow := len(q.items) - q.capacity
	if overflow <= 0 {
		return 0
	}
	n := copy(q.items, q.items[overflow:])
	var zero T
	for i := n; i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = q.items[:n]
	return overflow
}

func (q *boundedQueue[T]) snapshot() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

func (q *boundedQueue[T]) len() int { return len(q.items) }

func (q *boundedQueue[T]) reset() {
	clear(q.items)
	q.items = q.items[:0]
}
