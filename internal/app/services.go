package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmx-adapter/internal/adapter"
	"github.com/dokzlo13/dmx-adapter/internal/config"
	"github.com/dokzlo13/dmx-adapter/internal/db"
	"github.com/dokzlo13/dmx-adapter/internal/dmx"
	"github.com/dokzlo13/dmx-adapter/internal/eventbus"
	"github.com/dokzlo13/dmx-adapter/internal/gateway"
	"github.com/dokzlo13/dmx-adapter/internal/state"
)

// Services is a container for all application services.
// Storage is opened in Start because its location comes from the gateway's user profile.
type Services struct {
	cfg        *config.Config
	resetState bool
	closeOnce  sync.Once

	// Gateway connection and its settings database
	Plugin   *gateway.Plugin
	Settings *db.Settings

	// Own state database
	DB     *db.DB
	Store  *state.Store
	Values *adapter.Values

	// Property command worker pool
	Bus *eventbus.Bus

	// High-level services
	Adapters *AdapterService
	Gateway  *GatewayService
	Health   *HealthService
}

// NewServices creates the services that need no gateway connection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Adapters = NewAdapterService(s.Bus)
	s.Health = NewHealthService(cfg, s.Adapters.Players)

	return s, nil
}

// Start connects to the gateway, initializes adapters and runs the message loop.
// onExit is called once the loop ends: nil after a plugin unload, the error otherwise.
func (s *Services) Start(ctx context.Context, onExit func(error)) error {
	s.Health.Start(ctx)

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.Gateway.Timeout.Duration())
	plugin, err := gateway.Connect(connectCtx, s.cfg.Gateway.URL, s.cfg.Gateway.PluginID)
	cancel()
	if err != nil {
		return err
	}
	s.Plugin = plugin

	if err := s.openStorage(); err != nil {
		return err
	}

	layout, err := s.loadAdapters()
	if err != nil {
		return err
	}

	s.Adapters.Start()
	if err := s.initAdapters(ctx, layout); err != nil {
		return err
	}

	s.Gateway = NewGatewayService(s.Plugin, s.Bus)
	go func() {
		onExit(s.Gateway.Run(ctx))
	}()

	s.Health.SetReady(true)
	return nil
}

func (s *Services) openStorage() error {
	profile := s.Plugin.UserProfile

	settingsPath := s.cfg.Gateway.ConfigDB
	if settingsPath == "" {
		settingsPath = filepath.Join(profile.ConfigDir, "db.sqlite3")
	}
	settings, err := db.OpenSettings(settingsPath)
	if err != nil {
		return err
	}
	s.Settings = settings

	statePath := s.cfg.Database.Path
	if statePath == "" {
		statePath = filepath.Join(profile.DataDir, s.cfg.Gateway.PluginID, "state.sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	database, err := db.Open(statePath)
	if err != nil {
		return err
	}
	s.DB = database
	s.Store = state.NewStore(database.DB)
	s.Values = state.NewTypedStore[adapter.SavedValue](s.Store, state.KindProperty)

	log.Info().
		Str("settings", settingsPath).
		Str("state", statePath).
		Msg("Databases opened")

	if s.resetState {
		log.Info().Msg("Clearing saved property values")
		if n, err := s.Values.Clear(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear saved property values")
		} else {
			log.Info().Int64("removed", n).Msg("Saved property values cleared")
		}
	}
	return nil
}

// loadAdapters reads the adapter layout and drops saved values it no longer covers.
// An invalid layout is reported to the gateway and no adapter is started, but the
// plugin stays connected and the saved values are left alone.
func (s *Services) loadAdapters() (*config.Adapters, error) {
	layout, err := config.LoadAdapters(s.Settings, db.ConfigKey(s.cfg.Gateway.PluginID))
	if err != nil {
		return nil, err
	}

	if err := config.Validate(layout); err != nil {
		log.Error().Err(err).Msg("Invalid adapter configuration")
		if ferr := s.Plugin.Fail(fmt.Sprintf("Invalid configuration: %v", err)); ferr != nil {
			return nil, ferr
		}
		return &config.Adapters{}, nil
	}

	if _, err := adapter.PruneValues(s.Values, layout); err != nil {
		log.Warn().Err(err).Msg("Failed to prune saved property values")
	}
	return layout, nil
}

func (s *Services) initAdapters(ctx context.Context, layout *config.Adapters) error {
	for _, ac := range layout.Adapters {
		log.Info().Str("adapter", ac.ID).Str("title", ac.Title).Msg("Creating adapter")

		gw, err := s.Plugin.CreateAdapter(ac.ID, ac.Title)
		if err != nil {
			return err
		}

		a := adapter.New(ac, s.Values, dmx.WithInterval(s.cfg.Player.Interval.Duration()))
		if err := a.Init(ctx, adapter.GatewayRegistrar(gw)); err != nil {
			log.Error().Err(err).Str("adapter", ac.ID).Msg("Failed to initialize adapter")
			if ferr := s.Plugin.Fail(fmt.Sprintf("Failed to initialize adapter: %v", err)); ferr != nil {
				return ferr
			}
		}

		// Kept even when Init failed so unload requests are still answered.
		s.Adapters.Add(a, gw)
	}
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	s.closeOnce.Do(s.close)
}

func (s *Services) close() {
	s.Health.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()
	s.Bus.Close(ctx)

	s.Adapters.Close()

	if s.Plugin != nil {
		s.Plugin.Close()
	}
	if s.Settings != nil {
		s.Settings.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
