// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
)

func TestSparkline(t *testing.T) {
	t.Run("scales to max", func(t *testing.T) {
		got := Sparkline([]float64{0, 50, 100}, 3)
		assert.Equal(t, "▁▄█", got)
	})

	t.Run("pads short input on the left", func(t *testing.T) {
		got := Sparkline([]float64{10}, 4)
		assert.Equal(t, "   █", got)
	})

	t.Run("keeps newest values", func(t *testing.T) {
		got := Sparkline([]float64{100, 0, 0}, 2)
		assert.Equal(t, "▁▁", got)
	})

	t.Run("all zero", func(t *testing.T) {
		assert.Equal(t, "▁▁▁", Sparkline([]float64{0, 0, 0}, 3))
	})

	t.Run("zero width", func(t *testing.T) {
		assert.Empty(t, Sparkline([]float64{1, 2}, 0))
	})

	t.Run("display width matches", func(t *testing.T) {
		got := Sparkline([]float64{1, 2, 3, 4, 5}, 20)
		assert.Equal(t, 20, runewidth.StringWidth(got))
	})
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		percent float64
		want    string
	}{
		{"empty", 10, 0, "----------"},
		{"full", 10, 100, "##########"},
		{"half", 10, 50, "#####-----"},
		{"clamped high", 4, 250, "####"},
		{"clamped low", 4, -5, "----"},
		{"zero width", 0, 50, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderBar(tt.width, tt.percent))
		})
	}
}

func TestRenderBar_PartialKeepsWidth(t *testing.T) {
	got := RenderBar(10, 55)
	assert.Len(t, got, 10)
	assert.True(t, strings.HasPrefix(got, "#####"))
	assert.NotEqual(t, "-", string(got[5]))
}

func TestConnectionIndicator(t *testing.T) {
	assert.Equal(t, "[OK]", ConnectionIndicator("connected"))
	assert.Equal(t, "[*]", ConnectionIndicator("connecting"))
	assert.Equal(t, "[X]", ConnectionIndicator("error"))
	assert.Equal(t, "[ ]", ConnectionIndicator("disconnected"))
	assert.Equal(t, "[ ]", ConnectionIndicator(""))
}

func TestNewTheme(t *testing.T) {
	th := NewTheme()
	assert.NotNil(t, th)
	assert.Contains(t, th.PanelTitle.Render("Anomalies"), "Anomalies")
	assert.Contains(t, th.ConnectionStyle("error").Render("down"), "down")
}

func TestNewThemeFor(t *testing.T) {
	assert.False(t, NewThemeFor("light").IsDark)
	assert.True(t, NewThemeFor("dark").IsDark)
	assert.NotNil(t, NewThemeFor("auto"))
}

func TestRenderMessages(t *testing.T) {
	assert.Contains(t, RenderSuccess("saved"), "[OK] saved")
	assert.Contains(t, RenderError("failed"), "[X] failed")
	assert.Contains(t, RenderWarning("slow"), "[!] slow")
	assert.Contains(t, RenderInfo("note"), "[i] note")
}
