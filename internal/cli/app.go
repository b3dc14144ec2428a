// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/jeranaias/mmchat/internal/chat"
	"github.com/jeranaias/mmchat/internal/config"
	"github.com/jeranaias/mmchat/internal/conversation"
	"github.com/jeranaias/mmchat/internal/knowledge"
	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/storage"
	"github.com/jeranaias/mmchat/internal/stream"
	"github.com/jeranaias/mmchat/internal/syncer"
)

// app holds configuration and the components commands share. Components
// are opened on first use and released by close.
type app struct {
	// Flags.
	cfgPath  string
	logLevel string
	baseURL  string
	jsonMode bool

	// handlers observe streamed replies; set before open.
	handlers stream.Handlers
	voiceTTS bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer

	client        *api.Client
	cache         storage.Cache
	conversations *conversation.Store
	reconciler    *syncer.Reconciler
	knowledge     *knowledge.Store
	chat          *chat.Service
}

// loadConfig reads the configuration and sets up logging.
func (a *app) loadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.cfgPath != "" {
		cfg, err = config.LoadFromPath(a.cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.Backend.BaseURL = a.baseURL
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	logger, closer, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	a.logger, a.logCloser = logger, closer
	return nil
}

// backend returns the API client.
func (a *app) backend() *api.Client {
	if a.client == nil {
		a.client = api.New(api.Options{
			BaseURL:    a.cfg.Backend.BaseURL,
			Token:      a.cfg.Backend.Token,
			Timeout:    time.Duration(a.cfg.Backend.TimeoutSecs) * time.Second,
			RatePerSec: a.cfg.Backend.RatePerSec,
			Logger:     a.logger,
		})
	}
	return a.client
}

// open opens the local cache and the stores built on it, then loads them.
func (a *app) open(ctx context.Context) error {
	if a.conversations != nil {
		return nil
	}

	path, err := a.cfg.StoragePath()
	if err != nil {
		return err
	}
	cache, err := storage.Open(a.cfg.Storage.Backend, path)
	if err != nil {
		return fmt.Errorf("failed to open %s cache: %w", a.cfg.Storage.Backend, err)
	}
	a.cache = cache
	a.logger.Debug("CACHE_OPENED", "backend", a.cfg.Storage.Backend, "path", path)

	policy, err := syncer.ParsePolicy(a.cfg.Sync.Policy)
	if err != nil {
		return err
	}
	cancelPolicy, err := stream.ParseCancelPolicy(a.cfg.Stream.CancelPolicy)
	if err != nil {
		return err
	}
	endPolicy, err := stream.ParseEndPolicy(a.cfg.Stream.EndPolicy)
	if err != nil {
		return err
	}

	client := a.backend()
	a.conversations = conversation.NewStore(cache, a.logger)
	a.reconciler = syncer.New(a.conversations, client, syncer.Options{Policy: policy, Logger: a.logger})
	a.knowledge = knowledge.NewStore(cache, client, a.logger)
	a.chat = chat.NewService(a.conversations, client, chat.Options{
		CancelPolicy: cancelPolicy,
		EndPolicy:    endPolicy,
		VoiceTTS:     a.voiceTTS,
		Handlers:     a.handlers,
		Logger:       a.logger,
	})

	if err := a.conversations.Load(ctx); err != nil {
		return err
	}
	return a.knowledge.Load(ctx)
}

// syncOnStart reconciles when the config asks for it. Failures only warn.
func (a *app) syncOnStart(ctx context.Context) {
	if !a.cfg.Sync.OnStart {
		return
	}
	if !a.reconciler.Sync(ctx) {
		fmt.Fprintln(a.errOut, WarningStyle.Render("Sync failed; showing cached conversations."))
	}
}

// close waits for background work and releases everything opened.
func (a *app) close() error {
	var errs []error
	if a.chat != nil {
		a.chat.Wait()
	}
	if a.conversations != nil {
		errs = append(errs, a.conversations.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}
