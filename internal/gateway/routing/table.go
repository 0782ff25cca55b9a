package routing

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoServiceMatch means no configured service's prefix matches the path.
var ErrNoServiceMatch = errors.New("no service matches path")

// ErrNoBackend means the matched service has no configured backend.
var ErrNoBackend = errors.New("no backend for service")

// ErrBackendUnimplemented means the matched backend is a reserved variant.
var ErrBackendUnimplemented = errors.New("backend variant not implemented")

// Table is the hot-reloadable routing table: a read-preferring view over the
// currently active Config.
type Table struct {
	mu  sync.RWMutex
	cfg Config

	path     string
	interval time.Duration
	log      zerolog.Logger

	stopped uint32
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewTable builds a table from an already-validated initial config.
func NewTable(initial Config, path string, interval time.Duration, log zerolog.Logger) *Table {
	return &Table{
		cfg:      initial,
		path:     path,
		interval: interval,
		log:      log.With().Str("component", "routing_table").Logger(),
		stop:     make(chan struct{}),
	}
}

// Select performs first-match service-prefix scan, then first-match backend
// lookup for that service.
func (t *Table) Select(path string) (Backend, error) {
	t.mu.RLock()
	cfg := t.cfg
	t.mu.RUnlock()

	var service string
	var matched bool
	for name, prefix := range cfg.Services {
		if strings.HasPrefix(path, prefix) {
			service = name
			matched = true
			break
		}
	}
	if !matched {
		return Backend{}, ErrNoServiceMatch
	}

	for _, b := range cfg.Backends {
		if b.Service == service {
			if b.Kind != BackendBasic {
				return Backend{}, ErrBackendUnimplemented
			}
			return b, nil
		}
	}
	return Backend{}, ErrNoBackend
}

// Start launches the periodic reload loop.
func (t *Table) Start() {
	t.wg.Add(1)
	go t.loop()
}

// Stop signals the reload loop to exit and waits for it.
func (t *Table) Stop() {
	if !atomic.CompareAndSwapUint32(&t.stopped, 0, 1) {
		return
	}
	close(t.stop)
	t.wg.Wait()
}

func (t *Table) loop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.reloadOnce()
		}
	}
}

// reloadOnce re-reads and re-parses the configured file. On any I/O, parse,
// or validation failure it logs and retains the previous configuration.
func (t *Table) reloadOnce() {
	cfg, err := LoadConfig(t.path)
	if err != nil {
		t.log.Warn().Err(err).Str("path", t.path).Msg("failed to reload routing config; retaining previous")
		return
	}
	if err := cfg.Validate(); err != nil {
		t.log.Warn().Err(err).Str("path", t.path).Msg("invalid routing config on reload; retaining previous")
		return
	}

	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	t.log.Info().Str("path", t.path).Msg("routing config reloaded")
}

// Address renders a basic backend's dial target.
func (b Backend) Address() string {
	return fmt.Sprintf("%s:%d", b.IP, b.Port)
}
