package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/skobkin/mediaremote/internal/bus"
	"github.com/skobkin/mediaremote/internal/config"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/logging"
	"github.com/skobkin/mediaremote/internal/metrics"
	"github.com/skobkin/mediaremote/internal/notifications"
	"github.com/skobkin/mediaremote/internal/persistence"
	"github.com/skobkin/mediaremote/internal/probe"
	"github.com/skobkin/mediaremote/internal/reconnect"
	"github.com/skobkin/mediaremote/internal/registry"
	"github.com/skobkin/mediaremote/internal/remote"
	"github.com/skobkin/mediaremote/internal/scanner"
	"github.com/skobkin/mediaremote/internal/session"
	"github.com/skobkin/mediaremote/internal/transport"
)

// RuntimeOptions carries the collaborators a caller may substitute.
type RuntimeOptions struct {
	Logs *logging.Manager
	// Sender enables desktop notifications when set.
	Sender notifications.Sender
	// Fs backs the file storage backend, the OS filesystem when nil.
	Fs        afero.Fs
	Transport transport.Factory
	Browser   scanner.Browser
	Reconnect []reconnect.Option
}

// Runtime wires every component of one process explicitly.
type Runtime struct {
	mu sync.RWMutex

	Paths  Paths
	Config config.AppConfig

	Logs          *logging.Manager
	Bus           *bus.PubSubBus
	Metrics       *metrics.Metrics
	Store         persistence.KVStore
	Registry      *registry.Registry
	Prober        *probe.Prober
	Scanner       *scanner.Scanner
	Reconnector   *reconnect.Reconnector
	Controller    *remote.Controller
	Notifications *NotificationService

	cancel     context.CancelFunc
	notifyDone <-chan struct{}
	checks     sync.WaitGroup
	closeOnce  sync.Once
}

// NewRuntime opens the registry store, loads the known servers and builds
// the discovery and control components around one bus.
func NewRuntime(ctx context.Context, paths Paths, cfg config.AppConfig, opts RuntimeOptions) (*Runtime, error) {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logs := opts.Logs
	if logs == nil {
		logs = logging.NewManager(nil)
	}
	dial := opts.Transport
	if dial == nil {
		dial = transport.WebSocketFactory(transport.WebSocketOptions{
			HandshakeTimeout: cfg.Connection.ConnectTimeout(),
			Logger:           logs.Logger("transport"),
		})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		Paths:   paths,
		Config:  cfg,
		Logs:    logs,
		Metrics: metrics.New(),
		cancel:  cancel,
	}
	rt.Bus = bus.New(logs.Logger("bus"))

	store, err := persistence.OpenStore(ctx, persistence.StoreOptions{
		Backend:  cfg.Storage.Backend,
		DBPath:   paths.DBFile,
		FilePath: paths.StoreFile,
		Fs:       opts.Fs,
	})
	if err != nil {
		_ = rt.Close()

		return nil, fmt.Errorf("open registry store: %w", err)
	}
	rt.Store = store

	rt.Registry = registry.New(logs.Logger("registry"), store, registry.WithBus(rt.Bus))
	recent, hasRecent, err := rt.Registry.Load(ctx)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}

	rt.Prober = probe.New(probe.Config{
		ConnectTimeout:      cfg.Connection.ConnectTimeout(),
		IdentifyTimeout:     cfg.Connection.IdentifyTimeout(),
		ExpectedApplication: cfg.Connection.ExpectedApplication,
	}, dial, logs.Logger("probe"), rt.Metrics)
	if hasRecent {
		rt.checkOnStartup(runCtx, recent)
	}

	rt.Scanner = scanner.New(rt.Prober, rt.Registry, scanner.Options{
		MaxConcurrent: cfg.Discovery.MaxConcurrentProbes,
		Bus:           rt.Bus,
		Metrics:       rt.Metrics,
		Logger:        logs.Logger("scanner"),
		Browser:       opts.Browser,
	})

	sessionLogger := logs.Logger("session")
	factory := func(target domain.ServerKey) reconnect.Session {
		tr := dial(target.Address, target.Port)

		return session.New(session.Config{
			Target:       target,
			WriteTimeout: cfg.Connection.WriteTimeout(),
		}, tr, nil, rt.Bus, sessionLogger, rt.Metrics)
	}
	reconnectOpts := append([]reconnect.Option{reconnect.WithMetrics(rt.Metrics)}, opts.Reconnect...)
	rt.Reconnector = reconnect.New(reconnect.Config{
		BaseDelay:   cfg.Connection.ReconnectBaseDelay(),
		MaxAttempts: cfg.Connection.ReconnectMaxAttempts,
		OpenTimeout: cfg.Connection.ConnectTimeout(),
	}, factory, rt.Bus, logs.Logger("reconnect"), reconnectOpts...)

	rt.Controller = remote.New(rt.Bus, rt.Reconnector, logs.Logger("remote"))

	if opts.Sender != nil {
		rt.Notifications = NewNotificationService(rt.Bus, rt.CurrentConfig, opts.Sender, logs.Logger("app.notifications"))
		rt.notifyDone = rt.Notifications.Start(runCtx)
	}

	return rt, nil
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// SaveConfig persists cfg and applies the parts that can change at runtime.
func (r *Runtime) SaveConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()

		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	return r.Logs.Configure(cfg.Logging, r.Paths.LogFile)
}

// checkOnStartup tests the most recently seen server once in the background.
func (r *Runtime) checkOnStartup(ctx context.Context, recent domain.ServerRecord) {
	logger := r.Logs.Logger("app")
	r.checks.Add(1)
	go func() {
		defer r.checks.Done()
		record, _, err := r.Registry.CheckMostRecent(ctx, r.Prober)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("startup server check failed", "server", recent.Key().String(), "error", err)
			}

			return
		}
		logger.Debug("startup server check", "server", record.Key().String(), "status", record.Status)
	}()
}

// CheckLastServer probes the most recently seen server once after startup.
func (r *Runtime) CheckLastServer(ctx context.Context) (domain.ServerRecord, bool, error) {
	return r.Registry.CheckMostRecent(ctx, r.Prober)
}

// Connect records a manually entered server as checking and connects to it.
func (r *Runtime) Connect(ctx context.Context, address string, port int) error {
	return r.connectRecord(ctx, domain.ServerRecord{
		Name:    domain.DefaultServerName(address),
		Address: address,
		Port:    port,
	})
}

// OpenDeepLink records the server named by link and connects to it.
func (r *Runtime) OpenDeepLink(ctx context.Context, link string) (domain.ServerKey, error) {
	key, err := ParseDeepLink(link)
	if err != nil {
		return domain.ServerKey{}, err
	}

	err = r.connectRecord(ctx, domain.ServerRecord{
		Name:    domain.DeepLinkServerName(key.Address),
		Address: key.Address,
		Port:    key.Port,
	})

	return key, err
}

// ConnectKnown connects to a server already in the registry, or to the last
// used one when address is empty.
func (r *Runtime) ConnectKnown(ctx context.Context, address string, port int) error {
	if address == "" {
		last, ok := r.Registry.LastUsed()
		if !ok {
			return reconnect.ErrNoTarget
		}
		address, port = last.Address, last.Port
	}
	if err := r.Registry.SetLastUsed(ctx, address, port); err != nil {
		return err
	}

	return r.Reconnector.Start(address, port)
}

func (r *Runtime) connectRecord(ctx context.Context, record domain.ServerRecord) error {
	record.Status = domain.ServerStatusChecking
	if existing, ok := r.Registry.Get(record.Address, record.Port); ok {
		record.LastSeen = existing.LastSeen
	}
	if err := r.Registry.Upsert(ctx, record); err != nil {
		return err
	}

	return r.ConnectKnown(ctx, record.Address, record.Port)
}

// Disconnect stops the control session and any pending reconnect.
func (r *Runtime) Disconnect() {
	r.Reconnector.Stop()
}

func (r *Runtime) Close() error {
	var errs []error
	r.closeOnce.Do(func() {
		if r.Controller != nil {
			r.Controller.Close()
		}
		if r.Reconnector != nil {
			r.Reconnector.Stop()
		}
		if r.cancel != nil {
			r.cancel()
		}
		r.checks.Wait()
		if r.notifyDone != nil {
			<-r.notifyDone
		}
		if r.Bus != nil {
			r.Bus.Close()
		}
		if r.Store != nil {
			if err := r.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close registry store: %w", err))
			}
		}
		r.Logs.Logger("app").Debug("runtime closed")
	})

	return errors.Join(errs...)
}
