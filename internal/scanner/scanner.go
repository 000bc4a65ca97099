package scanner

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skobkin/mediaremote/internal/bus"
	"github.com/skobkin/mediaremote/internal/connectors"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/metrics"
	"github.com/skobkin/mediaremote/internal/probe"
)

const (
	SourceScan   = "scan"
	SourceManual = "manual"
	SourceMDNS   = "mdns"
)

type Prober interface {
	Probe(ctx context.Context, address string, port int) probe.Result
}

// Recorder stores discovered servers.
type Recorder interface {
	Upsert(ctx context.Context, record domain.ServerRecord) error
}

// Hit is the settled result of one address.
type Hit struct {
	probe.Result
	// Skipped is set for addresses never probed because the scan was cancelled.
	Skipped bool
	// RecordErr is the registry failure for a compatible server, if any.
	RecordErr error
}

type Summary struct {
	Total         int
	Compatible    int
	NonCompatible int
	Unreachable   int
	Cancelled     int
	Hits          []Hit
}

// Add counts hit into the summary, keeping compatible hits.
func (s *Summary) Add(hit Hit) {
	switch {
	case hit.Skipped:
		s.Cancelled++
	case hit.Outcome == probe.OutcomeCompatible:
		s.Compatible++
		s.Hits = append(s.Hits, hit)
	case hit.Outcome == probe.OutcomeRespondedNonCompatible:
		s.NonCompatible++
	default:
		s.Unreachable++
	}
}

type Options struct {
	// MaxConcurrent bounds parallel probes, 0 means unlimited.
	MaxConcurrent int
	Bus           bus.MessageBus
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Browser       Browser
}

type Scanner struct {
	prober        Prober
	recorder      Recorder
	bus           bus.MessageBus
	metrics       *metrics.Metrics
	logger        *slog.Logger
	browser       Browser
	maxConcurrent int
	now           func() time.Time
}

func New(prober Prober, recorder Recorder, opts Options) *Scanner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "scanner")
	}

	return &Scanner{
		prober:        prober,
		recorder:      recorder,
		bus:           opts.Bus,
		metrics:       opts.Metrics,
		logger:        logger,
		browser:       opts.Browser,
		maxConcurrent: opts.MaxConcurrent,
		now:           time.Now,
	}
}

// Scan probes every address of r concurrently and streams one Hit per address.
// The channel closes after every started probe settled. Cancelling ctx stops new
// probes; probes already running finish and still record compatible servers.
func (s *Scanner) Scan(ctx context.Context, r Range) (<-chan Hit, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	addresses := r.Addresses()
	hits := make(chan Hit, len(addresses))
	s.metrics.ScanStarted()
	s.logger.Info("scan started", "range", r.String(), "hosts", len(addresses))

	go func() {
		defer close(hits)

		var g errgroup.Group
		if s.maxConcurrent > 0 {
			g.SetLimit(s.maxConcurrent)
		}
		probeCtx := context.WithoutCancel(ctx)
		for _, address := range addresses {
			if ctx.Err() != nil {
				hits <- Hit{Result: probe.Result{Address: address, Port: r.Port}, Skipped: true}
				s.metrics.ScanHost("skipped")

				continue
			}
			g.Go(func() error {
				hits <- s.probeAndRecord(probeCtx, address, r.Port, SourceScan)

				return nil
			})
		}
		_ = g.Wait()
		s.logger.Info("scan finished", "range", r.String(), "cancelled", ctx.Err() != nil)
	}()

	return hits, nil
}

// Collect runs Scan and waits for the summary.
func (s *Scanner) Collect(ctx context.Context, r Range) (Summary, error) {
	hits, err := s.Scan(ctx, r)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Total: r.Size()}
	for hit := range hits {
		summary.Add(hit)
	}

	return summary, nil
}

// ScanSingle probes one manually entered endpoint.
func (s *Scanner) ScanSingle(ctx context.Context, address string, port int) (Hit, error) {
	if err := domain.ValidateEndpoint(address, port); err != nil {
		return Hit{}, err
	}

	return s.probeAndRecord(ctx, domain.NewServerKey(address, port).Address, port, SourceManual), nil
}

func (s *Scanner) probeAndRecord(ctx context.Context, address string, port int, source string) Hit {
	hit := Hit{Result: s.prober.Probe(ctx, address, port)}
	s.metrics.ScanHost(string(hit.Outcome))
	if !hit.Compatible() {
		return hit
	}

	record := domain.ServerRecord{
		Name:     hit.Name,
		Address:  address,
		Port:     port,
		Status:   domain.ServerStatusOnline,
		LastSeen: s.now(),
	}.Normalized()
	if s.recorder != nil {
		if err := s.recorder.Upsert(context.WithoutCancel(ctx), record); err != nil {
			s.logger.Warn("record discovered server failed", "address", address, "port", port, "error", err)
			hit.RecordErr = err
		}
	}
	s.logger.Info("compatible server found", "address", address, "port", port, "name", record.Name, "source", source)
	if s.bus != nil {
		s.bus.Publish(connectors.TopicServerDiscovered, connectors.ServerDiscovered{Record: record, Source: source})
	}

	return hit
}
