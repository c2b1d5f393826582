// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads, validates and saves the usagepulse settings file.
//
// The file is ~/.usagepulse/config.toml; config.json in the same directory
// is read when no TOML file exists. USAGEPULSE_* environment variables win
// over the file, and anything unset falls back to Default.
//
// Sections map onto the running system:
//
//	[source]   event source address, paths and push protocol
//	[polling]  startup interval, pause and streaming flags
//	[retry]    backoff base, cap and retry budget
//	[window]   buffer capacity, window and bucket sizing, anomaly factor
//	[server]   the synthetic event source (usagepulse serve)
//	[log]      level and file
//
// Watcher follows the file with fsnotify so that a running dashboard picks
// up [polling] edits without a restart:
//
//	w, _ := config.NewWatcher(path, func(cfg *config.Config) {
//	    eng.SetPollingConfig(model.ConfigPatch{...})
//	}, logger)
//	w.Watch()
//	defer w.Close()
package config
