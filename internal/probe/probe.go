package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/metrics"
	"github.com/skobkin/mediaremote/internal/protocol"
	"github.com/skobkin/mediaremote/internal/transport"
)

var (
	ErrTransportUnreachable = errors.New("transport unreachable")
	ErrProtocolTimeout      = errors.New("no identify response before timeout")
	ErrProtocolMismatch     = errors.New("server is not a compatible application")
)

const (
	DefaultConnectTimeout  = 3 * time.Second
	DefaultIdentifyTimeout = 2 * time.Second
)

// Outcome classifies one endpoint.
type Outcome string

const (
	OutcomeUnreachable            Outcome = "unreachable"
	OutcomeRespondedNonCompatible Outcome = "non_compatible"
	OutcomeCompatible             Outcome = "compatible"
)

type Config struct {
	ConnectTimeout      time.Duration
	IdentifyTimeout     time.Duration
	ExpectedApplication string
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      DefaultConnectTimeout,
		IdentifyTimeout:     DefaultIdentifyTimeout,
		ExpectedApplication: protocol.DefaultApplication,
	}
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IdentifyTimeout <= 0 {
		c.IdentifyTimeout = DefaultIdentifyTimeout
	}
	if c.ExpectedApplication == "" {
		c.ExpectedApplication = protocol.DefaultApplication
	}

	return c
}

type Result struct {
	Address string
	Port    int
	Outcome Outcome
	// Name is the server-declared name of a compatible server.
	Name    string
	Err     error
	Elapsed time.Duration
}

func (r Result) Compatible() bool {
	return r.Outcome == OutcomeCompatible
}

type Prober struct {
	cfg     Config
	dial    transport.Factory
	codec   protocol.Codec
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(cfg Config, dial transport.Factory, logger *slog.Logger, m *metrics.Metrics) *Prober {
	if logger == nil {
		logger = slog.Default().With("component", "probe")
	}

	return &Prober{
		cfg:     cfg.withDefaults(),
		dial:    dial,
		codec:   protocol.NewJSONCodec(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

func (p *Prober) Config() Config {
	return p.cfg
}

// Probe opens the endpoint, sends identify and classifies the reply.
// It resolves exactly once and always releases the transport.
func (p *Prober) Probe(ctx context.Context, address string, port int) Result {
	started := p.now()
	result := p.probe(ctx, address, port)
	result.Address = address
	result.Port = port
	result.Elapsed = p.now().Sub(started)

	p.metrics.ObserveProbe(string(result.Outcome), result.Elapsed)
	p.logger.Debug("probe resolved",
		"address", address,
		"port", port,
		"outcome", result.Outcome,
		"elapsed", result.Elapsed,
		"error", result.Err,
	)

	return result
}

func (p *Prober) probe(ctx context.Context, address string, port int) Result {
	if err := domain.ValidateEndpoint(address, port); err != nil {
		return Result{Outcome: OutcomeUnreachable, Err: fmt.Errorf("%w: %w", ErrTransportUnreachable, err)}
	}

	tr := p.dial(address, port)
	defer func() { _ = tr.Close() }()

	connectCtx, cancelConnect := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	err := tr.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		return Result{Outcome: OutcomeUnreachable, Err: fmt.Errorf("%w: %w", ErrTransportUnreachable, err)}
	}

	identifyCtx, cancelIdentify := context.WithTimeout(ctx, p.cfg.IdentifyTimeout)
	defer cancelIdentify()

	frame, err := p.codec.EncodeIdentify(p.now())
	if err != nil {
		return Result{Outcome: OutcomeUnreachable, Err: fmt.Errorf("encode identify: %w", err)}
	}
	if err := tr.WriteMessage(identifyCtx, frame); err != nil {
		return Result{Outcome: OutcomeUnreachable, Err: fmt.Errorf("%w: %w", ErrTransportUnreachable, err)}
	}

	responded := false
	for {
		raw, err := tr.ReadMessage(identifyCtx)
		if err != nil {
			return p.classifyReadError(ctx, identifyCtx, err, responded)
		}
		responded = true

		msg, err := p.codec.DecodeServerMessage(raw)
		if err != nil {
			continue
		}
		reply, ok := msg.(protocol.IdentifyResponse)
		if !ok {
			continue
		}
		if reply.Application != p.cfg.ExpectedApplication {
			return Result{
				Outcome: OutcomeRespondedNonCompatible,
				Err:     fmt.Errorf("%w: application %q", ErrProtocolMismatch, reply.Application),
			}
		}

		return Result{Outcome: OutcomeCompatible, Name: reply.Name}
	}
}

func (p *Prober) classifyReadError(parent, identifyCtx context.Context, err error, responded bool) Result {
	if parent.Err() != nil {
		return Result{Outcome: OutcomeUnreachable, Err: fmt.Errorf("%w: %w", ErrTransportUnreachable, parent.Err())}
	}
	if identifyCtx.Err() != nil || transport.IsTimeout(err) {
		return Result{Outcome: OutcomeRespondedNonCompatible, Err: ErrProtocolTimeout}
	}
	if responded {
		return Result{Outcome: OutcomeRespondedNonCompatible, Err: fmt.Errorf("%w: closed after reply: %w", ErrProtocolMismatch, err)}
	}
	// The connection opened and was shut down cleanly without identifying.
	if transport.IsNormalClosure(err) {
		return Result{Outcome: OutcomeRespondedNonCompatible, Err: fmt.Errorf("%w: closed without identifying: %w", ErrProtocolTimeout, err)}
	}

	return Result{Outcome: OutcomeUnreachable, Err: fmt.Errorf("%w: %w", ErrTransportUnreachable, err)}
}

// TestReachable reports whether the endpoint accepts a connection within the connect timeout.
func (p *Prober) TestReachable(ctx context.Context, address string, port int) bool {
	if domain.ValidateEndpoint(address, port) != nil {
		return false
	}

	tr := p.dial(address, port)
	connectCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	if err := tr.Connect(connectCtx); err != nil {
		p.logger.Debug("server unreachable", "address", address, "port", port, "error", err)

		return false
	}
	if err := tr.Close(); err != nil {
		p.logger.Debug("close after reachability test failed", "address", address, "port", port, "error", err)
	}

	return true
}
