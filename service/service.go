package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-chainsync/chain"
	"github.com/saiset-co/sai-chainsync/config"
	"github.com/saiset-co/sai-chainsync/cron"
	"github.com/saiset-co/sai-chainsync/datamanager"
	"github.com/saiset-co/sai-chainsync/health"
	"github.com/saiset-co/sai-chainsync/logger"
	"github.com/saiset-co/sai-chainsync/metrics"
	"github.com/saiset-co/sai-chainsync/sai"
	"github.com/saiset-co/sai-chainsync/server"
	"github.com/saiset-co/sai-chainsync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Option func(*Service)

// WithDial routes the chain client through dial, for in-process nodes.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(s *Service) {
		s.chainOpts = append(s.chainOpts, chain.WithDial(dial))
	}
}

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration
	container       *sai.Container
	scheduler       *cron.Manager
	watcher         *Watcher
	chainOpts       []chain.Option
}

func NewService(ctx context.Context, configPath string, opts ...Option) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}

	return NewServiceWithConfig(ctx, configManager, opts...)
}

func NewServiceWithConfig(ctx context.Context, configManager types.ConfigManager, opts ...Option) (*Service, error) {
	if configManager == nil || configManager.GetConfig() == nil {
		return nil, types.ErrConfigIsNil
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	service := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		container:       sai.InitContainer(),
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	for _, opt := range opts {
		opt(service)
	}

	service.state.Store(StateStopped)

	if err := service.registerProviders(configManager); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register providers")
	}

	sai.SetContainer(service.container)
	return service, nil
}

// Start runs the service and blocks until it is stopped by Stop, a signal or the parent context.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		sai.Logger().Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				sai.Logger().Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	sai.Logger().Info("Starting service", zap.String("name", sai.Config().GetConfig().Name))

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.setState(StateStopped)
		if stopErr := s.stopComponents(); stopErr != nil {
			sai.Logger().Error("Error during rollback", zap.Error(stopErr))
		}
		s.cancel()
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	sai.Logger().Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		sai.Logger().Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	sai.Logger().Info("Service stopped gracefully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		sai.Logger().Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	sai.Logger().Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// startComponents brings components up in dependency order: logger, metrics,
// scheduler and data manager, health, HTTP, then the observers.
func (s *Service) startComponents(ctx context.Context) error {
	_config := sai.Config().GetConfig()

	if err := sai.Logger().Start(); err != nil {
		return types.WrapError(err, "failed to start logger")
	}

	g, gCtx := errgroup.WithContext(ctx)

	if mm := sai.Metrics(); mm != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := mm.Start(); err != nil {
					sai.Logger().Error("Failed to start metrics manager", zap.Error(err))
				}
				return nil
			}
		})
	}

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			return s.scheduler.Start()
		}
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return types.NewErrorf("component startup timeout: %v", ctx.Err())
		default:
			return types.WrapError(err, "failed to start poll scheduler")
		}
	}

	if err := sai.Data().Start(); err != nil {
		return types.WrapError(err, "failed to start data manager")
	}

	if _config.Health != nil && _config.Health.Enabled {
		if err := sai.Health().Start(); err != nil {
			sai.Logger().Error("Failed to start health manager", zap.Error(err))
		}
	}

	if httpServer := s.container.HTTPServer.Load(); httpServer != nil {
		if err := httpServer.Start(); err != nil {
			return types.WrapError(err, "failed to start HTTP server")
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := s.watcher.Start(s.ctx, _config.Chain.Contracts); err != nil {
		return types.WrapError(err, "failed to start watchers")
	}

	sai.Logger().Info("All components started successfully")
	return nil
}

// stopComponents reverses startComponents. Only running components are stopped, so
// it also rolls back a partial start.
func (s *Service) stopComponents() error {
	var errors []error

	sai.Logger().Info("Stopping service components...")

	s.watcher.Stop()

	if httpServer := s.container.HTTPServer.Load(); httpServer != nil && httpServer.IsRunning() {
		if err := httpServer.Stop(); err != nil {
			sai.Logger().Error("Failed to stop HTTP server", zap.Error(err))
			errors = append(errors, err)
		}
	}

	if hm := s.container.Health.Load(); hm != nil && hm.IsRunning() {
		if err := hm.Stop(); err != nil {
			sai.Logger().Error("Failed to stop health manager", zap.Error(err))
			errors = append(errors, err)
		}
	}

	if dm := s.container.Data.Load(); dm != nil && dm.IsRunning() {
		if err := dm.Stop(); err != nil {
			sai.Logger().Error("Failed to stop data manager", zap.Error(err))
			errors = append(errors, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	if s.scheduler.IsRunning() {
		g.Go(func() error {
			if err := s.scheduler.Stop(); err != nil {
				sai.Logger().Error("Failed to stop poll scheduler", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if mm := sai.Metrics(); mm != nil && mm.IsRunning() {
		g.Go(func() error {
			if err := mm.Stop(); err != nil {
				sai.Logger().Error("Failed to stop metrics manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			sai.Logger().Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errors = append(errors, err)
		}
	}

	sai.Logger().Info("All components stopped")

	if lm := sai.Logger(); lm.IsRunning() {
		_ = lm.Stop()
	}

	if len(errors) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errors)
	}

	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			sai.Logger().Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		sai.Logger().Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		sai.Logger().Warn("Service shutdown: context deadline exceeded")
	default:
		sai.Logger().Info("Service shutdown: context done")
	}
}

func (s *Service) registerProviders(configManager types.ConfigManager) error {
	container := s.container
	container.SetConfig(configManager)

	_config := configManager.GetConfig()
	if _config.Data == nil || _config.Chain == nil {
		return types.Errorf(types.ErrConfigIsNil, "data and chain sections are required")
	}

	loggerManager, err := logger.NewManager(_config.Logger)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}
	container.SetLogger(loggerManager)

	var metricsManager types.MetricsManager
	if _config.Metrics != nil && _config.Metrics.Enabled {
		mm, err := metrics.NewManager(_config.Metrics, loggerManager)
		if err != nil {
			return types.WrapError(err, "failed to register metrics manager")
		}
		metricsManager = mm
		container.SetMetrics(metricsManager)
	}

	s.scheduler = cron.NewManager(s.ctx, loggerManager, metricsManager, _config.Cron)

	dm, err := datamanager.NewManager(s.ctx, loggerManager, _config.Data,
		datamanager.WithMetrics(metricsManager),
		datamanager.WithScheduler(s.scheduler))
	if err != nil {
		return types.WrapError(err, "failed to register data manager")
	}
	container.SetData(dm)

	chainOpts := append([]chain.Option{chain.WithMetrics(metricsManager)}, s.chainOpts...)
	client, err := chain.NewClient(loggerManager, _config.Chain, chainOpts...)
	if err != nil {
		return types.WrapError(err, "failed to register chain client")
	}
	container.SetClient(client)

	reader := chain.NewReader(client, dm, _config.Chain)
	container.SetReader(reader)

	s.watcher = NewWatcher(loggerManager, dm, reader, _config.Watch)

	hm := health.NewManager(s.ctx, loggerManager, types.ServiceInfo{
		Name:    _config.Name,
		Version: _config.Version,
	}, _config.Health)
	hm.RegisterChecker("rpc", health.RPCChecker(client))
	hm.RegisterChecker("datamanager", health.DataManagerChecker(dm.Stats))
	container.SetHealth(hm)

	if _config.Server != nil && _config.Server.HTTP != nil && _config.Server.HTTP.Enabled {
		httpServer, err := server.NewHTTPServer(s.ctx, loggerManager, _config.Server.HTTP,
			server.WithMiddlewares(
				server.Metrics(metricsManager),
				server.Logging(loggerManager),
				server.Recovery(loggerManager),
			))
		if err != nil {
			return types.WrapError(err, "failed to register HTTP server")
		}

		httpServer.Handle(fasthttp.MethodGet, server.HealthPath, hm.Handler())
		httpServer.Handle(fasthttp.MethodGet, server.VersionPath, hm.VersionHandler())
		if metricsManager != nil {
			httpServer.Handle(fasthttp.MethodGet, server.MetricsPath, metricsManager.Handler())
		}

		container.SetHTTPServer(httpServer)
	}

	return nil
}
