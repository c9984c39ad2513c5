package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobmcallan/hive/internal/clients/hive"
	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/events"
	"github.com/bobmcallan/hive/internal/interfaces"
	"github.com/bobmcallan/hive/internal/models"
	"github.com/bobmcallan/hive/internal/services/connection"
	"github.com/bobmcallan/hive/internal/services/ledger"
	"github.com/bobmcallan/hive/internal/services/reconcile"
	"github.com/bobmcallan/hive/internal/services/router"
	"github.com/bobmcallan/hive/internal/services/scheduler"
	"github.com/bobmcallan/hive/internal/services/signal"
	"github.com/bobmcallan/hive/internal/services/status"
)

var (
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("app: closed")

	// ErrStaleResult is returned when a pull result arrives after teardown
	// and is discarded.
	ErrStaleResult = errors.New("app: stale pull result discarded")
)

const inboxSize = 256

// App is the explicit context shared by every component. Lifecycle is
// NewApp (create) then Start then Close (dispose). All store mutations run
// on the App's single dispatch goroutine.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Bus         *events.Bus
	Client      interfaces.HiveClient
	Connection  interfaces.ConnectionManager
	Router      *router.Router
	Signals     interfaces.SignalStore
	Ledger      interfaces.PositionLedger
	Reconcile   interfaces.ReconciliationCache
	Status      interfaces.StatusStore
	Scheduler   interfaces.Scheduler
	StartupTime time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	now      func() time.Time
	inbox    chan func()
	epoch    atomic.Uint64
	loopStop chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	started   bool
	closed    bool
	unsubBoot func()
}

// Option configures the App
type Option func(*options)

type options struct {
	client    interfaces.HiveClient
	connOpts  []connection.Option
	schedOpts []scheduler.Option
	now       func() time.Time
}

// WithClient replaces the HTTP pull client.
func WithClient(c interfaces.HiveClient) Option {
	return func(o *options) { o.client = c }
}

// WithConnectionOptions passes extra options to the connection manager.
func WithConnectionOptions(opts ...connection.Option) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, opts...) }
}

// WithSchedulerOptions passes extra options to the scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) { o.schedOpts = append(o.schedOpts, opts...) }
}

// WithClock replaces time.Now for decoded timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// Load resolves and loads configuration, builds the logger and creates the App.
// configPath may be empty: HIVE_CONFIG, then hive.toml next to the binary,
// then config/hive.toml are tried.
func Load(configPath string, opts ...Option) (*App, error) {
	common.LoadVersionFromFile()
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("HIVE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "hive.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/hive.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	return NewApp(config, logger, opts...)
}

// NewApp constructs every component, registers message handlers and starts
// the dispatch loop. No connection is opened until Start.
func NewApp(config *common.Config, logger *common.Logger, opts ...Option) (*App, error) {
	startupStart := time.Now()

	if config == nil {
		config = common.NewDefaultConfig()
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if o.client == nil {
		o.client = hive.NewClient(
			hive.WithBaseURL(config.Upstream.BaseURL),
			hive.WithLogger(logger),
			hive.WithRateLimit(config.Upstream.RateLimit),
			hive.WithTimeout(config.Upstream.GetTimeout()),
		)
	}

	bus := events.NewBus(logger)
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		Config:      config,
		Logger:      logger,
		Bus:         bus,
		Client:      o.client,
		Router:      router.NewRouter(logger),
		Signals:     signal.NewStore(config.Signals.Capacity, config.Signals.PageSize, logger),
		Ledger:      ledger.NewLedger(config.Assets.Symbols, logger),
		Reconcile:   reconcile.NewCache(logger),
		Status:      status.NewStore(logger),
		Scheduler:   scheduler.NewScheduler(config.Sync.GetJitter(), logger, o.schedOpts...),
		StartupTime: startupStart,
		ctx:         ctx,
		cancel:      cancel,
		now:         o.now,
		inbox:       make(chan func(), inboxSize),
		loopStop:    make(chan struct{}),
		loopDone:    make(chan struct{}),
	}

	connOpts := append([]connection.Option{
		connection.WithMessageHandler(a.onFrame),
		connection.WithPublisher(bus),
	}, o.connOpts...)
	a.Connection = connection.NewManager(
		connection.ConfigFrom(config.Connection, config.Upstream.WSURL),
		logger,
		connOpts...,
	)

	a.registerHandlers()
	go a.loop()

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// Start opens the push connection and schedules the periodic pulls.
func (a *App) Start() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	if a.Config.Sync.Bootstrap {
		unsub := a.Bus.Subscribe(func(e models.Event) {
			if e.Type == models.EventConnected {
				a.safeGo("bootstrap", func() { a.Bootstrap(a.ctx) })
			}
		})
		a.mu.Lock()
		a.unsubBoot = unsub
		a.mu.Unlock()
	}

	a.startSyncTasks()
	a.Connection.Connect()
	return nil
}

// Close disposes the context: the connection is closed, every scheduled
// task stopped and the epoch bumped so in-flight pulls are discarded.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	unsub := a.unsubBoot
	a.unsubBoot = nil
	a.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	a.epoch.Add(1)
	a.cancel()

	if err := a.Connection.Close(); err != nil {
		a.Logger.Debug().Err(err).Msg("Connection close returned error")
	}
	a.Scheduler.StopAll()
	a.wg.Wait()

	close(a.loopStop)
	<-a.loopDone

	a.Logger.Info().Msg("App closed")
}

// Epoch returns the current generation. It changes only on Close.
func (a *App) Epoch() uint64 {
	return a.epoch.Load()
}

// loop is the single dispatch goroutine. Work queued before Close is drained.
func (a *App) loop() {
	defer close(a.loopDone)
	for {
		select {
		case fn := <-a.inbox:
			a.runSafely(fn)
		case <-a.loopStop:
			for {
				select {
				case fn := <-a.inbox:
					a.runSafely(fn)
				default:
					return
				}
			}
		}
	}
}

func (a *App) runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.Logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic on dispatch loop")
		}
	}()
	fn()
}

// enqueue hands fn to the dispatch loop. It returns false once the loop has stopped.
func (a *App) enqueue(fn func()) bool {
	select {
	case <-a.loopDone:
		return false
	default:
	}
	select {
	case a.inbox <- fn:
		return true
	case <-a.loopDone:
		return false
	}
}

// do runs fn on the dispatch loop and waits for it. Never call from the loop itself.
func (a *App) do(fn func()) error {
	done := make(chan struct{})
	if !a.enqueue(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-a.loopDone:
		return ErrClosed
	}
}

// applyAt runs fn on the dispatch loop only if the epoch still equals epoch.
func (a *App) applyAt(epoch uint64, fn func()) error {
	applied := false
	if err := a.do(func() {
		if a.epoch.Load() != epoch {
			return
		}
		fn()
		applied = true
	}); err != nil {
		if errors.Is(err, ErrClosed) && a.epoch.Load() != epoch {
			return ErrStaleResult
		}
		return err
	}
	if !applied {
		return ErrStaleResult
	}
	return nil
}

// onFrame forwards a raw frame from the connection goroutine in arrival order.
func (a *App) onFrame(frame []byte) {
	if !a.enqueue(func() { a.Router.Dispatch(frame) }) {
		a.Logger.Debug().Int("bytes", len(frame)).Msg("Dropping frame after close")
	}
}

// safeGo launches a tracked goroutine with panic recovery and logging.
func (a *App) safeGo(name string, fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.Logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in app goroutine")
			}
		}()
		fn()
	}()
}
