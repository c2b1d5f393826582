// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

// State is the manager's acquisition state.
type State int32

const (
	// StateIdle means no channel is active (paused, not started or closed).
	StateIdle State = iota
	// StatePolling means the poll loop is running.
	StatePolling
	// StateStreaming means a push stream is open or being opened.
	StateStreaming
	// StateBackingOff means a stream reconnect is waiting out its delay.
	StateBackingOff
	// StateFallenBack means polling after streaming exhausted its retries.
	StateFallenBack
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStreaming:
		return "streaming"
	case StateBackingOff:
		return "backing-off"
	case StateFallenBack:
		return "fallen-back"
	default:
		return "unknown"
	}
}
