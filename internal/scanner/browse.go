package scanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"

	"github.com/skobkin/mediaremote/internal/domain"
)

const DefaultBrowseDomain = "local."

// Browser is the subset of *zeroconf.Resolver used for service discovery.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Browse listens for mDNS announcements of service until ctx is done. Every
// announced IPv4 endpoint is confirmed with a probe before it is recorded.
func (s *Scanner) Browse(ctx context.Context, service string) (<-chan Hit, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, fmt.Errorf("mdns service name is empty")
	}

	browser := s.browser
	if browser == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("init mdns resolver: %w", err)
		}
		browser = resolver
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := browser.Browse(ctx, service, DefaultBrowseDomain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", service, err)
	}
	s.logger.Info("mdns browse started", "service", service)

	hits := make(chan Hit)
	go func() {
		defer close(hits)

		var g errgroup.Group
		seen := make(map[domain.ServerKey]struct{})
		if s.maxConcurrent > 0 {
			g.SetLimit(s.maxConcurrent)
		}

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case entry, ok := <-entries:
				if !ok {
					break loop
				}
				if entry == nil || len(entry.AddrIPv4) == 0 {
					continue
				}
				key := domain.NewServerKey(entry.AddrIPv4[0].String(), entry.Port)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				s.logger.Debug("mdns entry", "instance", entry.Instance, "address", key.Address, "port", key.Port)
				g.Go(func() error {
					hit := s.probeAndRecord(context.WithoutCancel(ctx), key.Address, key.Port, SourceMDNS)
					select {
					case hits <- hit:
					case <-ctx.Done():
					}

					return nil
				})
			}
		}
		_ = g.Wait()
		s.logger.Info("mdns browse finished", "service", service)
	}()

	return hits, nil
}
