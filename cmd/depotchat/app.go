package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"depot-chat/internal/api"
	"depot-chat/internal/config"
	"depot-chat/internal/export"
	"depot-chat/internal/playback"
	"depot-chat/internal/session"
	"depot-chat/internal/ui"
	"depot-chat/internal/voice"
)

var errNotLoggedIn = errors.New("not signed in; run `depotchat login` first")

// app holds what every subcommand shares once flags are parsed.
type app struct {
	cfg   *config.AppConfig
	log   *zap.Logger
	store *session.Store
	api   *api.Client
}

func openApp(cfg *config.AppConfig) (*app, error) {
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	store, err := session.Open(cfg.DBPath, log.Named("session"))
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	client := api.New(api.Options{
		BaseURL:     cfg.APIBaseURL,
		UserBaseURL: cfg.UserAPIBaseURL,
		Timeout:     cfg.Timeout,
		Logger:      log.Named("api"),
	})
	log.Debug("app ready",
		zap.String("db", cfg.DBPath),
		zap.String("api", cfg.APIBaseURL),
		zap.String("user_api", cfg.UserAPIBaseURL),
	)
	return &app{cfg: cfg, log: log, store: store, api: client}, nil
}

// newLogger writes JSON logs to the configured file; the terminal belongs to
// the UI.
func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{cfg.LogFile}
	zcfg.ErrorOutputPaths = []string{cfg.LogFile}
	if cfg.Verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return log, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close session store", zap.Error(err))
	}
	_ = a.log.Sync()
}

func (a *app) requireLogin() (session.State, error) {
	state := a.store.Current()
	if !state.LoggedIn() {
		return state, errNotLoggedIn
	}
	return state, nil
}

func (a *app) runTUI(ctx context.Context, start string) error {
	deps := ui.Deps{
		Config:  *a.cfg,
		Store:   a.store,
		Backend: a.api,
		Speaker: playback.New(a.api, a.cfg.PlayerCommand, a.log.Named("playback")),
		Logger:  a.log.Named("ui"),
		Start:   start,
	}
	if capture, err := voice.DetectCapture(a.cfg.RecordCommand); err == nil {
		deps.Recorder = voice.NewRecorder(capture, "", a.log.Named("voice"))
	} else {
		a.log.Info("voice capture unavailable", zap.Error(err))
	}
	exp, err := export.New(a.cfg.ExportDir)
	if err != nil {
		return err
	}
	deps.Exporter = exp

	p := tea.NewProgram(ui.NewModel(deps), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
