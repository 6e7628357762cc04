package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"koemuse-server/internal/domain/gemini"
	"koemuse-server/internal/domain/music"
	"koemuse-server/internal/domain/recognition/amivoice"
	platformconfig "koemuse-server/internal/platform/config"
	platformerrors "koemuse-server/internal/platform/errors"
	platformlogging "koemuse-server/internal/platform/logging"
	platformstorage "koemuse-server/internal/platform/storage"
	httptransport "koemuse-server/internal/transport/http"
	httpanalyze "koemuse-server/internal/transport/http/analyze"
	httpwebapi "koemuse-server/internal/transport/http/webapi"
	"koemuse-server/internal/transport/ws"
)

const shutdownTimeout = 15 * time.Second

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	configPath string
	config     *platformconfig.Config
	logger     *platformlogging.Logger

	db   *gorm.DB
	repo platformstorage.GenerationRepository

	bus        evbus.Bus
	fileStore  *music.FileStore
	dispatcher *music.Dispatcher

	asyncClient *amivoice.AsyncClient
	composer    *gemini.Composer
}

// Options configures the bootstrap run.
type Options struct {
	ConfigPath string
}

// Run starts the whole service lifecycle: configuration, logging,
// storage, the generation pipeline and both transport servers, then
// blocks until a termination signal arrives and shuts down gracefully.
func Run(ctx context.Context, opts Options) error {
	state := &appState{configPath: opts.ConfigPath}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		return err
	}
	logger.InfoTag("Boot", "services started")

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	logger.Close()
	return nil
}

// InitGraph declares the ordered initialisation steps with their
// dependencies. Order in the slice must satisfy DependsOn.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init",
			Title:     "Initialise logging",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"config:load", "logging:init"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "music:init-pipeline",
			Title:     "Initialise generation pipeline",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindGeneration,
			Execute:   initMusicPipelineStep,
		},
		{
			ID:        "recognition:init-clients",
			Title:     "Initialise recognition and composer clients",
			DependsOn: []string{"logging:init"},
			Kind:      platformerrors.KindRecognition,
			Execute:   initRecognitionStep,
		},
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader(state.configPath).WithDotEnv(true).Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(&platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return err
	}
	state.logger = logger
	logger.InfoTag("Boot", "configuration loaded from %s", state.configPath)
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	db, err := platformstorage.Open(state.config.Storage.DSN)
	if err != nil {
		return err
	}
	state.db = db
	state.repo = platformstorage.NewGenerationRepository(db)
	state.logger.InfoTag("Storage", "database ready at %s", state.config.Storage.DSN)
	return nil
}

func initMusicPipelineStep(_ context.Context, state *appState) error {
	store, err := music.NewFileStore(state.config.Music.OutputDir, httptransport.MusicURLPrefix, state.config.Web.BaseURL)
	if err != nil {
		return err
	}
	state.fileStore = store
	state.bus = evbus.New()
	state.dispatcher = music.NewDispatcher(
		music.NewClient(music.ClientConfig{
			Endpoint:        state.config.Music.Endpoint,
			APIKey:          state.config.Music.APIKey,
			DurationSeconds: state.config.Music.DurationSeconds,
			OutputFormat:    state.config.Music.OutputFormat,
		}),
		store,
		state.repo,
		state.bus,
		state.logger,
	)
	return nil
}

func initRecognitionStep(_ context.Context, state *appState) error {
	state.asyncClient = amivoice.NewAsyncClient(amivoice.AsyncConfig{
		Endpoint:     state.config.AmiVoice.AsyncURL,
		APIKey:       state.config.AmiVoice.APIKey,
		PollInterval: state.config.AmiVoice.PollInterval,
		PollAttempts: state.config.AmiVoice.PollAttempts,
	}, state.logger)

	state.composer = gemini.NewComposer(gemini.ComposerConfig{
		BaseURL:   state.config.Gemini.BaseURL,
		APIKey:    state.config.Gemini.APIKey,
		ModelName: state.config.Gemini.ModelName,
		MaxTokens: state.config.Gemini.MaxTokens,
	}, state.logger)
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	wsServer := startWebSocketServer(state, g, groupCtx)

	if err := startHTTPServer(state, wsServer, g, groupCtx); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}
	return nil
}

func startWebSocketServer(state *appState, g *errgroup.Group, groupCtx context.Context) *ws.Server {
	cfg := state.config
	hub := ws.NewHub(state.logger)
	router := ws.NewRouter(hub, state.logger, ws.RouterOptions{})
	server := ws.NewServer(ws.ServerConfig{
		Addr: fmt.Sprintf("%s:%d", cfg.Transport.WebSocket.IP, cfg.Transport.WebSocket.Port),
		Path: cfg.Transport.WebSocket.Path,
	}, router, hub, state.logger)

	streamCfg := amivoice.StreamConfig{
		URL:              cfg.AmiVoice.StreamURL,
		AppKey:           cfg.AmiVoice.AppKey,
		Password:         cfg.AmiVoice.Password,
		GrammarFileNames: cfg.AmiVoice.GrammarFileNames,
		ResultIntervalMs: cfg.AmiVoice.ResultIntervalMs,
		Segmentation:     cfg.AmiVoice.Segmentation,
	}
	dial := func(ctx context.Context) (ws.Upstream, error) {
		return amivoice.DialStream(ctx, streamCfg, state.logger)
	}

	server.SetHandlerBuilder(func(conn *ws.Connection, req *http.Request) (ws.SessionHandler, error) {
		return ws.NewRelay(conn.GetID(), conn, dial, state.dispatcher, state.bus, state.logger, ws.RelayOptions{
			IdleTimeout: cfg.Transport.WebSocket.IdleTimeout,
		})
	})

	g.Go(func() error {
		return server.Start(groupCtx)
	})
	return server
}

func startHTTPServer(state *appState, wsServer *ws.Server, g *errgroup.Group, groupCtx context.Context) error {
	router, err := httptransport.Build(httptransport.Options{
		Config:   state.config,
		Logger:   state.logger,
		MusicDir: state.fileStore.Dir(),
	})
	if err != nil {
		return err
	}

	webapiService, err := httpwebapi.NewService(state.repo, wsServer.Counts, state.logger)
	if err != nil {
		return err
	}
	webapiService.Register(router.API)

	httpanalyze.NewService(state.asyncClient, state.composer, state.logger).Register(router.Engine)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", state.config.Web.Port),
		Handler: router.Engine,
	}

	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		state.logger.InfoTag("HTTP", "listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			state.logger.ErrorTag("HTTP", "HTTP server failed: %v", err)
			return err
		}
		return nil
	})
	return nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("Boot", "received shutdown signal, cleaning up")

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Boot", "error during shutdown: %v", err)
			return err
		}
		logger.InfoTag("Boot", "all services stopped")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("Boot", "shutdown timed out, forcing exit")
		return errors.New("service shutdown timed out")
	}
	return nil
}
