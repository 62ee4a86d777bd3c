// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/trailsense/go-trailsync/localstore"
	"github.com/trailsense/go-trailsync/syncengine"
)

// daemonConfig is the file/env configuration for trailsyncd.
type daemonConfig struct {
	StorePath string

	RemoteBaseURL string
	RemoteToken   string

	RelayEndpoint   string
	RelayServiceID  string
	RelayTemplateID string
	RelaySenderKey  string

	// IdentitySecret verifies the HS256 access token in IdentityToken.
	// Both empty means anonymous mode: saves work, sync waits for auth.
	IdentitySecret string
	IdentityToken  string

	SettleDelay  time.Duration
	PollInterval time.Duration

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// loadConfig reads trailsyncd.yaml (or the --config override) plus
// TRAILSYNC_* environment variables.
func loadConfig(path string) (*daemonConfig, error) {
	v := viper.New()
	v.SetDefault("store.path", "trailsync.db")
	v.SetDefault("remote.base_url", "http://localhost:8080")
	v.SetDefault("sync.settle_delay", "3s")
	v.SetDefault("sync.poll_interval", "30s")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("trailsyncd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.trailsync")
	}
	v.SetEnvPrefix("TRAILSYNC")
	// Dotted keys map to underscored env names: store.path becomes
	// TRAILSYNC_STORE_PATH.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; defaults and env carry it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &daemonConfig{
		StorePath:       v.GetString("store.path"),
		RemoteBaseURL:   v.GetString("remote.base_url"),
		RemoteToken:     v.GetString("remote.token"),
		RelayEndpoint:   v.GetString("relay.endpoint"),
		RelayServiceID:  v.GetString("relay.service_id"),
		RelayTemplateID: v.GetString("relay.template_id"),
		RelaySenderKey:  v.GetString("relay.sender_key"),
		IdentitySecret:  v.GetString("identity.secret"),
		IdentityToken:   v.GetString("identity.token"),
		SettleDelay:     v.GetDuration("sync.settle_delay"),
		PollInterval:    v.GetDuration("sync.poll_interval"),
		LogFile:         v.GetString("log.file"),
		LogMaxSizeMB:    v.GetInt("log.max_size_mb"),
		LogMaxBackups:   v.GetInt("log.max_backups"),
		LogMaxAgeDays:   v.GetInt("log.max_age_days"),
	}, nil
}

// newLogger builds the daemon logger: rotated file output when log.file is
// set, stderr otherwise.
func newLogger(cfg *daemonConfig) *slog.Logger {
	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
	}
	return slog.New(slog.NewTextHandler(writer, nil))
}

// buildEngine assembles the sync engine from daemon configuration.
func buildEngine(store *localstore.Store, cfg *daemonConfig, logger *slog.Logger) (*syncengine.Engine, error) {
	engineCfg := syncengine.DefaultConfig()
	engineCfg.Logger = logger
	if cfg.SettleDelay > 0 {
		engineCfg.SettleDelay = cfg.SettleDelay
	}
	if cfg.PollInterval > 0 {
		engineCfg.PollInterval = cfg.PollInterval
	}
	engineCfg.Prober = syncengine.HTTPProber(cfg.RemoteBaseURL + "/healthz")

	token := cfg.RemoteToken
	remote := syncengine.NewHTTPRemoteStore(cfg.RemoteBaseURL, func(context.Context) (string, error) {
		return token, nil
	})

	var relay syncengine.Relay = syncengine.NoRelay{}
	if cfg.RelayEndpoint != "" {
		relay = syncengine.NewHTTPRelay(cfg.RelayEndpoint, syncengine.RelayConfig{
			ServiceID:  cfg.RelayServiceID,
			TemplateID: cfg.RelayTemplateID,
			SenderKey:  cfg.RelaySenderKey,
		})
	}

	var identity syncengine.IdentityProvider
	if cfg.IdentitySecret != "" && cfg.IdentityToken != "" {
		identityToken := cfg.IdentityToken
		identity = &syncengine.TokenIdentity{
			Secret: []byte(cfg.IdentitySecret),
			Token: func(context.Context) (string, error) {
				return identityToken, nil
			},
		}
	}

	// Probe once so the engine starts with the platform's current view.
	initialOnline := engineCfg.Prober(context.Background())
	return syncengine.NewEngine(store, remote, relay, identity, initialOnline, engineCfg)
}
