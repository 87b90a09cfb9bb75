package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/dockercloud/pkg/config"
	"github.com/openfroyo/dockercloud/pkg/dockercloud"
	"github.com/openfroyo/dockercloud/pkg/stores"
	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

// session holds everything a command needs to talk to Docker Cloud.
type session struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	store  *stores.SQLiteStore
	events *stores.EventWriter
	client *dockercloud.Client
	logger zerolog.Logger

	cancel context.CancelFunc
}

type sessionOptions struct {
	// stream connects the event stream when the config allows it.
	stream bool
	// journal opens the journal even when it is disabled in the config.
	journal bool
	// offline skips the Docker Cloud client, e.g. for history.
	offline bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if noStream {
		cfg.Stream.Enabled = false
	}
	return cfg, nil
}

func openSession(cmd *cobra.Command, opts sessionOptions) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	tel.StartMetricsServer()

	ctx, cancel := context.WithCancel(cmd.Context())
	s := &session{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.WithCommand(cmd.CommandPath()).Zerolog(),
		cancel: cancel,
	}
	cmd.SetContext(tel.WithContext(ctx))

	if cfg.Journal.Enabled || opts.journal {
		if err := s.openJournal(ctx); err != nil {
			s.close()
			return nil, err
		}
	}

	if opts.offline {
		return s, nil
	}

	if err := cfg.RequireCredentials(); err != nil {
		s.close()
		return nil, err
	}

	clientOpts := []dockercloud.Option{
		dockercloud.WithLogger(s.logger),
		dockercloud.WithMetrics(tel.Metrics),
	}
	if s.store != nil {
		clientOpts = append(clientOpts, dockercloud.WithJournal(s.store))
	}

	s.client, err = dockercloud.New(dockercloud.Config{
		User:            cfg.API.User,
		APIKey:          cfg.API.APIKey,
		RESTHost:        cfg.API.RESTHost,
		StreamURL:       cfg.Stream.URL,
		DisableStream:   !cfg.Stream.Enabled,
		RateLimit:       cfg.API.RateLimit,
		RateBurst:       cfg.API.RateBurst,
		Interval:        cfg.Wait.Interval,
		MaxPollFailures: cfg.Wait.MaxPollFailures,
		Timeout:         cfg.Wait.Timeout,
		Backoff:         cfg.Stream.Backoff,
	}, clientOpts...)
	if err != nil {
		s.close()
		return nil, err
	}

	if s.store != nil && cfg.Journal.RecordEvents {
		s.client.Subscribe(s.events.Handle)
	}

	if opts.stream && cfg.Stream.Enabled {
		if err := s.client.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				s.close()
				return nil, ctx.Err()
			}
			s.logger.Warn().Err(err).Msg("Event stream unavailable, falling back to polling")
		}
	}

	if configPath != "" {
		engine := s.client.Engine()
		err := config.Watch(ctx, configPath, s.logger, func(next *config.Config) error {
			engine.SetInterval(next.Wait.Interval)
			engine.SetTimeout(next.Wait.Timeout)
			engine.SetMaxPollFailures(next.Wait.MaxPollFailures)
			return nil
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Config changes will not be picked up")
		}
	}

	return s, nil
}

func (s *session) openJournal(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: s.cfg.Journal.Path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to migrate journal: %w", err)
	}
	s.store = store
	s.events = stores.NewEventWriter(store, s.logger, stores.DefaultEventBuffer)
	return nil
}

func (s *session) close() {
	var errs []error
	if s.client != nil {
		errs = append(errs, s.client.Disconnect())
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.events != nil {
		errs = append(errs, s.events.Shutdown(ctx))
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	errs = append(errs, s.tel.Shutdown(ctx))

	if err := errors.Join(errs...); err != nil {
		s.logger.Debug().Err(err).Msg("Session cleanup reported errors")
	}
}
