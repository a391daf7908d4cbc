// Copyright 2024 The kadfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg is the enumerated configuration surface of §6, bound to
// cobra/pflag flags and overridable from a YAML file via viper, the same
// split gcsfuse's cfg package uses between struct definition and flag
// wiring.
package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full set of enumerated options from §6. Every field carries
// both a yaml tag (for the on-disk config file) and a matching mapstructure
// tag, since viper.Unmarshal decodes the flag-bound keys (e.g.
// "mount.mount-point") through mapstructure, which otherwise only matches
// on exact-insensitive field name, never on a dashed tag.
type Config struct {
	Mount     MountConfig     `yaml:"mount" mapstructure:"mount"`
	Bootstrap BootstrapConfig `yaml:"bootstrap" mapstructure:"bootstrap"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Stat      StatConfig      `yaml:"stat" mapstructure:"stat"`
	Debug     DebugConfig     `yaml:"debug" mapstructure:"debug"`
}

type MountConfig struct {
	MountPoint string `yaml:"mount-point" mapstructure:"mount-point"`
	Port       int    `yaml:"port" mapstructure:"port"`
	StartCLI   bool   `yaml:"start-cli" mapstructure:"start-cli"`
}

type BootstrapConfig struct {
	RendezvousURL      string        `yaml:"rendezvous-url" mapstructure:"rendezvous-url"`
	StartWithBootstrap bool          `yaml:"start-with-bootstrap-server" mapstructure:"start-with-bootstrap-server"`
	KeepaliveInterval  time.Duration `yaml:"keepalive-interval" mapstructure:"keepalive-interval"`
}

type StatConfig struct {
	BlockSize     uint32 `yaml:"block-size" mapstructure:"block-size"`
	InitialBlocks uint64 `yaml:"initial-blocks" mapstructure:"initial-blocks"`
	PerPeerBlocks uint64 `yaml:"per-peer-blocks" mapstructure:"per-peer-blocks"`
}

type MonitorConfig struct {
	InitialCountdown int           `yaml:"initial-countdown" mapstructure:"initial-countdown"`
	TickInterval     time.Duration `yaml:"tick-interval" mapstructure:"tick-interval"`
	IdleEviction     int           `yaml:"idle-eviction" mapstructure:"idle-eviction"`
	SyncInterval     time.Duration `yaml:"sync-interval" mapstructure:"sync-interval"`
}

type DebugConfig struct {
	LogFormat                string `yaml:"log-format" mapstructure:"log-format"`
	LogSeverity              string `yaml:"log-severity" mapstructure:"log-severity"`
	LogFile                  string `yaml:"log-file" mapstructure:"log-file"`
	ExitOnInvariantViolation bool   `yaml:"exit-on-invariant-violation" mapstructure:"exit-on-invariant-violation"`
}

// BindFlags registers every flag and its viper binding, mirroring gcsfuse's
// generated cfg.BindFlags (hand-written here since kadfs's surface is a
// fraction of the size).
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.StringP("mount_point", "", "", "Directory to mount at.")
	if err := viper.BindPFlag("mount.mount-point", flagSet.Lookup("mount_point")); err != nil {
		return err
	}

	flagSet.IntP("port", "", 4001, "Local peer listen port.")
	if err := viper.BindPFlag("mount.port", flagSet.Lookup("port")); err != nil {
		return err
	}

	flagSet.BoolP("start_cli", "", false, "Spin up a local command REPL after mount.")
	if err := viper.BindPFlag("mount.start-cli", flagSet.Lookup("start_cli")); err != nil {
		return err
	}

	flagSet.StringP("bootstrap_url", "", "", "Base URL of the bootstrap rendezvous server.")
	if err := viper.BindPFlag("bootstrap.rendezvous-url", flagSet.Lookup("bootstrap_url")); err != nil {
		return err
	}

	flagSet.BoolP("start_with_bootstrap_server", "", false, "Start as this overlay's own bootstrap peer.")
	if err := viper.BindPFlag("bootstrap.start-with-bootstrap-server", flagSet.Lookup("start_with_bootstrap_server")); err != nil {
		return err
	}

	flagSet.DurationP("bootstrap_keepalive_interval", "", 30*time.Second, "Interval between bootstrap keep-alive refreshes.")
	if err := viper.BindPFlag("bootstrap.keepalive-interval", flagSet.Lookup("bootstrap_keepalive_interval")); err != nil {
		return err
	}

	flagSet.Uint32P("block_size", "", 4000, "statfs block size.")
	if err := viper.BindPFlag("stat.block-size", flagSet.Lookup("block_size")); err != nil {
		return err
	}

	flagSet.Uint64P("initial_blocks", "", 1<<20, "statfs capacity with no peers.")
	if err := viper.BindPFlag("stat.initial-blocks", flagSet.Lookup("initial_blocks")); err != nil {
		return err
	}

	flagSet.Uint64P("per_peer_blocks", "", 1<<18, "Additional statfs capacity granted per peer.")
	if err := viper.BindPFlag("stat.per-peer-blocks", flagSet.Lookup("per_peer_blocks")); err != nil {
		return err
	}

	flagSet.IntP("monitor_initial_countdown", "", 3, "Monitor tick countdown before a quiescent write is flushed.")
	if err := viper.BindPFlag("monitor.initial-countdown", flagSet.Lookup("monitor_initial_countdown")); err != nil {
		return err
	}

	flagSet.DurationP("monitor_tick_interval", "", time.Second, "Monitor tick interval.")
	if err := viper.BindPFlag("monitor.tick-interval", flagSet.Lookup("monitor_tick_interval")); err != nil {
		return err
	}

	flagSet.IntP("monitor_idle_eviction", "", 30, "Ticks of no activity before a clean monitor record is evicted.")
	if err := viper.BindPFlag("monitor.idle-eviction", flagSet.Lookup("monitor_idle_eviction")); err != nil {
		return err
	}

	flagSet.DurationP("sync_interval", "", 10*time.Second, "Interval between Syncer Listener reconciliation passes.")
	if err := viper.BindPFlag("monitor.sync-interval", flagSet.Lookup("sync_interval")); err != nil {
		return err
	}

	flagSet.StringP("log_format", "", "text", "Log renderer: text or json.")
	if err := viper.BindPFlag("debug.log-format", flagSet.Lookup("log_format")); err != nil {
		return err
	}

	flagSet.StringP("log_severity", "", "INFO", "Minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("debug.log-severity", flagSet.Lookup("log_severity")); err != nil {
		return err
	}

	flagSet.StringP("log_file", "", "", "Log file path; empty logs to stderr.")
	if err := viper.BindPFlag("debug.log-file", flagSet.Lookup("log_file")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Check Namespace Mirror invariants after every mutating operation.")
	if err := viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	return nil
}

// Load unmarshals viper's merged flag/YAML/env state into a Config.
func Load() (*Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Dump renders the resolved configuration back to YAML, using the same
// tags a config file would, for startup diagnostics.
func (c *Config) Dump() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
