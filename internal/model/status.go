// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// =============================================================================
// CONNECTION STATUS
// =============================================================================

// ConnState is the coarse connection state shown to the operator.
type ConnState string

const (
	StatusDisconnected ConnState = "disconnected"
	StatusConnecting   ConnState = "connecting"
	StatusConnected    ConnState = "connected"
	StatusError        ConnState = "error"
)

// ConnectionStatus is written only by the transport manager.
type ConnectionStatus struct {
	Status       ConnState  `json:"status"`
	LastUpdate   *time.Time `json:"lastUpdate"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Clone returns a deep copy.
func (s ConnectionStatus) Clone() ConnectionStatus {
	if s.LastUpdate != nil {
		t := *s.LastUpdate
		s.LastUpdate = &t
	}
	return s
}

// =============================================================================
// POLLING CONFIG
// =============================================================================

// DefaultPollInterval is the default polling cadence.
const DefaultPollInterval = 2000 * time.Millisecond

// MinPollInterval is the smallest interval accepted from a control surface.
const MinPollInterval = 100 * time.Millisecond

// PollingConfig selects and tunes the acquisition channel.
type PollingConfig struct {
	Interval     time.Duration `json:"interval"`
	IsPaused     bool          `json:"isPaused"`
	UseStreaming bool          `json:"useStreaming"`
}

// DefaultPollingConfig returns {2s, not paused, polling}.
func DefaultPollingConfig() PollingConfig {
	return PollingConfig{Interval: DefaultPollInterval}
}

// Mode describes the channel the config asks for.
func (c PollingConfig) Mode() string {
	switch {
	case c.IsPaused:
		return "paused"
	case c.UseStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("polling every %s", c.Interval)
	}
}

// ConfigPatch is a partial PollingConfig update. Nil fields are left unchanged.
type ConfigPatch struct {
	Interval     *time.Duration
	IsPaused     *bool
	UseStreaming *bool
}

// Apply merges the patch into c and reports whether anything changed.
func (p ConfigPatch) Apply(c PollingConfig) (PollingConfig, bool) {
	out := c
	if p.Interval != nil {
		out.Interval = *p.Interval
	}
	if p.IsPaused != nil {
		out.IsPaused = *p.IsPaused
	}
	if p.UseStreaming != nil {
		out.UseStreaming = *p.UseStreaming
	}
	return out, out != c
}

// Empty reports whether the patch carries no fields.
func (p ConfigPatch) Empty() bool {
	return p.Interval == nil && p.IsPaused == nil && p.UseStreaming == nil
}

// WithInterval returns a patch setting the interval.
func WithInterval(d time.Duration) ConfigPatch { return ConfigPatch{Interval: &d} }

// WithPaused returns a patch setting the paused flag.
func WithPaused(v bool) ConfigPatch { return ConfigPatch{IsPaused: &v} }

// WithStreaming returns a patch setting the streaming flag.
func WithStreaming(v bool) ConfigPatch { return ConfigPatch{UseStreaming: &v} }
