// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for usagepulse.
//
// Command: config [subcommand]
// Short:   View and modify the config file
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one value
//   set <key> <value>   Write one value to the config file
//   init                Write a default config file

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/usagepulse/internal/config"
)

// HandleConfig shows and edits the configuration file.
//
//	usagepulse config [show] [--json]
//	usagepulse config get <key>
//	usagepulse config set <key> <value>
//	usagepulse config keys
//	usagepulse config path
//	usagepulse config init [--force]
//
// Keys use dot notation: polling.interval_ms, source.base_url, server.addr.
func HandleConfig(args Args) error {
	p := NewArgParser(args.Raw, "json", "force")
	jsonMode := args.JSON || p.BoolFlag("json")

	switch sub := p.Subcommand(); sub {
	case "", "show":
		return configShow(args, jsonMode)
	case "get":
		key := p.Positional(1)
		if key == "" {
			return ErrMissingArgument("key", "config get <key>")
		}
		return configGet(args, key, jsonMode)
	case "set":
		key, value := p.Positional(1), p.Positional(2)
		if key == "" || p.PositionalCount() < 3 {
			return ErrMissingArgument("key and value", "config set <key> <value>")
		}
		return configSet(args, key, value)
	case "keys":
		for _, k := range config.GetAllKeys() {
			fmt.Fprintln(args.out(), k)
		}
		return nil
	case "path":
		path, err := configTarget(args)
		if err != nil {
			return err
		}
		fmt.Fprintln(args.out(), path)
		return nil
	case "init":
		return configInit(args, p.BoolFlag("force"))
	default:
		return &UsageError{Message: fmt.Sprintf("unknown config subcommand %q", sub), Usage: "config [show|get|set|keys|path|init]"}
	}
}

// configTarget returns the file config commands read and write.
func configTarget(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	path, err := config.ConfigPathTOML()
	if err != nil {
		return "", &ConfigError{Err: err}
	}
	return path, nil
}

// loadFileOnly reads path without environment overrides so that set does
// not persist them. A missing file yields defaults.
func loadFileOnly(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	var err error
	if strings.HasSuffix(path, ".json") {
		err = config.LoadJSON(cfg, path)
	} else {
		err = config.LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	cfg.SetDefaults()
	return cfg, nil
}

func saveFile(cfg *config.Config, path string) error {
	var err error
	if strings.HasSuffix(path, ".json") {
		err = config.SaveJSON(cfg, path)
	} else {
		err = config.SaveTOML(cfg, path)
	}
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	return nil
}

func configShow(args Args, jsonMode bool) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	if jsonMode {
		return writeJSON(args.out(), cfg)
	}
	return toml.NewEncoder(args.out()).Encode(cfg)
}

func configGet(args Args, key string, jsonMode bool) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	v, err := cfg.Get(key)
	if err != nil {
		return &UsageError{Message: err.Error(), Usage: "config keys lists valid keys"}
	}
	if jsonMode {
		return writeJSON(args.out(), map[string]interface{}{"key": key, "value": v})
	}
	fmt.Fprintln(args.out(), v)
	return nil
}

func configSet(args Args, key, value string) error {
	path, err := configTarget(args)
	if err != nil {
		return err
	}
	cfg, err := loadFileOnly(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Message: err.Error(), Usage: "config set <key> <value>"}
	}
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	if err := saveFile(cfg, path); err != nil {
		return err
	}
	if !args.Quiet {
		fmt.Fprintln(args.out(), SuccessStyle.Render(fmt.Sprintf("%s = %s", key, value)))
	}
	return nil
}

func configInit(args Args, force bool) error {
	path, err := configTarget(args)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return &UsageError{Message: path + " already exists", Usage: "config init --force"}
	}
	if err := saveFile(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintln(args.out(), SuccessStyle.Render("wrote "+path))
	return nil
}
