// Package apply drives the table manager from a configuration: it opens the
// control device, ensures every configured table and loads its entries.
package apply

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/tablectl/internal/audit"
	"grimm.is/tablectl/internal/config"
	"grimm.is/tablectl/internal/health"
	"grimm.is/tablectl/internal/logging"
	"grimm.is/tablectl/internal/metrics"
	"grimm.is/tablectl/internal/resolve"
	"grimm.is/tablectl/internal/table"
)

// Lookuper resolves domain names to addresses.
type Lookuper interface {
	LookupAll(ctx context.Context, domains []string) ([]table.Address, error)
}

// Service applies configurations to the control device.
type Service struct {
	opener   table.Opener
	resolver Lookuper
	metrics  *metrics.Registry
	logger   *logging.Logger
	retry    *RetryConfig
	history  *audit.Store

	mu      sync.Mutex
	lastAt  time.Time
	lastErr error

	// Upstream pool built from the config's resolver block.
	poolMu  sync.Mutex
	pool    *resolve.Resolver
	poolCfg config.Resolver
}

// Option configures a Service.
type Option func(*Service)

// WithOpener replaces backend selection, e.g. with a MemoryStore.
func WithOpener(o table.Opener) Option {
	return func(s *Service) { s.opener = o }
}

// WithResolver replaces the resolver built from the config's resolver block.
func WithResolver(r Lookuper) Option {
	return func(s *Service) { s.resolver = r }
}

// WithMetrics sets the metrics registry. Defaults to metrics.Get().
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRetry overrides the open_retry block.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Service) { s.retry = &cfg }
}

// WithHistory records every table result in store.
func WithHistory(store *audit.Store) Option {
	return func(s *Service) { s.history = store }
}

// New creates a Service.
func New(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Get()
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("apply")
	}
	return s
}

// TableResult is the outcome for one table.
type TableResult struct {
	Anchor   string
	Table    string
	Added    int
	Resolved int
	Err      error
}

// Report summarises an apply run.
type Report struct {
	RunID  string
	Tables []TableResult
}

// Added returns the total number of newly inserted addresses.
func (r Report) Added() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Added
	}
	return n
}

// Failed returns the results that carry an error.
func (r Report) Failed() []TableResult {
	var out []TableResult
	for _, t := range r.Tables {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

// Apply ensures every table in cfg and adds its entries using a single
// device handle. A failing table does not stop the others; all errors are
// joined into the returned error.
func (s *Service) Apply(ctx context.Context, cfg *config.Config) (Report, error) {
	var targets []target
	for _, a := range cfg.Anchors {
		for _, t := range a.Tables {
			targets = append(targets, target{anchor: a.Name, table: t})
		}
	}
	return s.run(ctx, cfg, targets)
}

// ApplyTable applies a single table of cfg.
func (s *Service) ApplyTable(ctx context.Context, cfg *config.Config, anchor string, t config.Table) (TableResult, error) {
	report, err := s.run(ctx, cfg, []target{{anchor: anchor, table: t}})
	if len(report.Tables) == 0 {
		return TableResult{Anchor: anchor, Table: t.Name, Err: err}, err
	}
	return report.Tables[0], err
}

type target struct {
	anchor string
	table  config.Table
}

func (s *Service) run(ctx context.Context, cfg *config.Config, targets []target) (report Report, err error) {
	defer func() {
		s.mu.Lock()
		s.lastAt, s.lastErr = time.Now(), err
		s.mu.Unlock()
	}()
	return s.runTargets(ctx, cfg, targets)
}

// HealthCheck reports the outcome of the most recent run.
func (s *Service) HealthCheck(context.Context) health.Check {
	s.mu.Lock()
	at, err := s.lastAt, s.lastErr
	s.mu.Unlock()

	switch {
	case at.IsZero():
		return health.Check{Status: health.StatusDegraded, Message: "no apply run yet"}
	case errors.Is(err, table.ErrDeviceUnavailable):
		return health.Check{Status: health.StatusUnhealthy, Message: err.Error()}
	case err != nil:
		return health.Check{Status: health.StatusDegraded, Message: err.Error()}
	}
	return health.Check{Status: health.StatusHealthy, Message: "last run " + at.Format(time.RFC3339)}
}

func (s *Service) runTargets(ctx context.Context, cfg *config.Config, targets []target) (Report, error) {
	start := time.Now()
	report := Report{RunID: uuid.NewString()}
	log := s.logger.WithFields(map[string]any{"run_id": report.RunID})

	resolver, err := s.lookuper(cfg)
	if err != nil {
		return report, err
	}

	h, err := s.open(ctx, cfg, log)
	if err != nil {
		return report, err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			log.Error("Failed to close control device", "error", cerr)
		}
	}()

	var errs []error
	for _, tgt := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res := s.applyTable(ctx, h, resolver, tgt, log)
		report.Tables = append(report.Tables, res)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}

	s.metrics.MarkApplied(start)
	s.record(report, start, log)
	log.Audit("apply", "tables", map[string]any{
		"tables": len(report.Tables),
		"added":  report.Added(),
		"failed": len(report.Failed()),
	})
	return report, errors.Join(errs...)
}

func (s *Service) record(report Report, at time.Time, log *logging.Logger) {
	if s.history == nil || len(report.Tables) == 0 {
		return
	}
	events := make([]audit.Event, 0, len(report.Tables))
	for _, t := range report.Tables {
		evt := audit.Event{
			RunID:     report.RunID,
			Timestamp: at,
			Anchor:    t.Anchor,
			Table:     t.Table,
			Added:     t.Added,
			Resolved:  t.Resolved,
		}
		if t.Err != nil {
			evt.Kind = table.KindOf(t.Err).String()
			evt.Error = t.Err.Error()
		}
		events = append(events, evt)
	}
	if err := s.history.Write(events...); err != nil {
		log.Warn("Failed to record apply history", "error", err)
	}
}

func (s *Service) open(ctx context.Context, cfg *config.Config, log *logging.Logger) (*table.Handle, error) {
	tc := cfg.TableConfig()
	if s.opener != nil {
		tc.Opener = s.opener
	}
	rc := RetryConfigFrom(cfg.OpenRetry)
	if s.retry != nil {
		rc = *s.retry
	}

	return RetryWithResult(ctx, rc, func() (*table.Handle, error) {
		h, err := table.Open(tc)
		s.metrics.RecordOpen(err)
		if err != nil {
			log.Warn("Failed to open control device", "backend", tc.Backend, "device", tc.DevicePath, "error", err)
		}
		return h, err
	})
}

// Close stops upstream health checking.
func (s *Service) Close() {
	s.poolMu.Lock()
	pool := s.pool
	s.pool = nil
	s.poolMu.Unlock()
	if pool != nil {
		pool.Stop()
	}
}

// ResolverCheck reports the state of the upstream pool.
func (s *Service) ResolverCheck(context.Context) health.Check {
	s.poolMu.Lock()
	pool := s.pool
	s.poolMu.Unlock()
	if pool == nil {
		return health.Check{Status: health.StatusHealthy, Message: "no resolver in use"}
	}

	status := pool.Status()
	var down []string
	for _, u := range status {
		if u.Down {
			down = append(down, u.Addr)
		}
	}
	switch {
	case len(down) == 0:
		return health.Check{Status: health.StatusHealthy, Message: fmt.Sprintf("%d upstreams up", len(status))}
	case len(down) == len(status):
		return health.Check{Status: health.StatusUnhealthy, Message: "all upstreams down"}
	}
	return health.Check{Status: health.StatusDegraded, Message: "upstreams down: " + strings.Join(down, ", ")}
}

// lookuper returns the resolver for cfg. The pool is kept across runs and
// rebuilt when the resolver block changes.
func (s *Service) lookuper(cfg *config.Config) (Lookuper, error) {
	if s.resolver != nil {
		return s.resolver, nil
	}
	if cfg.Resolver == nil {
		if cfg.HasDomains() {
			return nil, errors.New("domains configured without a resolver block")
		}
		return nil, nil
	}

	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if s.pool != nil && reflect.DeepEqual(s.poolCfg, *cfg.Resolver) {
		return s.pool, nil
	}
	pool, err := newResolver(cfg.Resolver, s.logger)
	if err != nil {
		return nil, err
	}
	if s.pool != nil {
		s.pool.Stop()
	}
	pool.Start()
	s.pool, s.poolCfg = pool, *cfg.Resolver
	return pool, nil
}

func newResolver(rc *config.Resolver, logger *logging.Logger) (*resolve.Resolver, error) {
	policy, err := resolve.PolicyByName(rc.Policy)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	opts := []resolve.Option{
		resolve.WithProtocol(rc.Protocol),
		resolve.WithTimeout(rc.TimeoutDuration()),
		resolve.WithPolicy(policy),
		resolve.WithSpray(rc.Spray),
		resolve.WithMaxFails(rc.MaxFails),
		resolve.WithHealthCheck(rc.HealthCheckInterval()),
		resolve.WithLogger(logger.WithComponent("resolve")),
	}
	if rc.Check == "ping" {
		opts = append(opts, resolve.WithCheck(resolve.CheckPing))
	}
	return resolve.New(rc.Upstreams(), opts...), nil
}

func (s *Service) applyTable(ctx context.Context, h *table.Handle, resolver Lookuper, tgt target, log *logging.Logger) TableResult {
	res := TableResult{Anchor: tgt.anchor, Table: tgt.table.Name}
	log = log.WithFields(map[string]any{"anchor": tgt.anchor, "table": tgt.table.Name})

	addrs, err := tgt.table.Addresses()
	if err != nil {
		res.Err = fmt.Errorf("%s/%s: %w", tgt.anchor, tgt.table.Name, err)
		log.Error("Invalid table entries", "error", err)
		return res
	}

	if len(tgt.table.Domains) > 0 {
		resolved, err := resolver.LookupAll(ctx, tgt.table.Domains)
		if err != nil {
			res.Err = fmt.Errorf("%s/%s: %w", tgt.anchor, tgt.table.Name, err)
			log.Error("Failed to resolve domains", "domains", tgt.table.Domains, "error", err)
			return res
		}
		res.Resolved = len(resolved)
		s.metrics.RecordResolved(tgt.anchor, tgt.table.Name, len(resolved))
		addrs = append(addrs, resolved...)
	}

	err = h.EnsureTable(tgt.anchor, tgt.table.Name)
	s.metrics.RecordEnsure(tgt.anchor, tgt.table.Name, err)
	if err != nil {
		res.Err = err
		log.Error("Failed to ensure table", "kind", table.KindOf(err), "error", err)
		return res
	}

	v4, v6 := table.SplitByFamily(addrs)
	for _, batch := range [][]table.Address{v4, v6} {
		if len(batch) == 0 {
			continue
		}
		fam := batch[0].Family()
		n, err := h.AddAddresses(tgt.anchor, tgt.table.Name, batch)
		s.metrics.RecordAdd(tgt.anchor, tgt.table.Name, fam, n, err)
		if err != nil {
			res.Err = err
			log.Error("Failed to add addresses", "family", fam, "count", len(batch), "kind", table.KindOf(err), "error", err)
			return res
		}
		res.Added += n
		log.Debug("Added addresses", "family", fam, "requested", len(batch), "added", n)
	}

	log.Info("Table applied", "entries", len(addrs), "added", res.Added)
	return res
}
