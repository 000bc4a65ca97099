package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/probe"
	"github.com/skobkin/mediaremote/internal/scanner"
)

const defaultBrowseWindow = 10 * time.Second

func runProbe(e *env, args []string) error {
	fs := newFlagSet("probe", e.stdout)
	port := fs.Int("port", e.cfg.Connection.Port, "server port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: probe takes exactly one address", errUsage)
	}

	address, p, err := parseEndpoint(fs.Arg(0), *port)
	if err != nil {
		return err
	}
	hit, err := e.rt.Scanner.ScanSingle(e.ctx, address, p)
	if err != nil {
		return err
	}
	printHit(e.stdout, hit)
	if hit.RecordErr != nil {
		return fmt.Errorf("record server: %w", hit.RecordErr)
	}

	return nil
}

func runScan(e *env, args []string) error {
	d := e.cfg.Discovery
	fs := newFlagSet("scan", e.stdout)
	prefix := fs.String("prefix", d.Prefix, "first three octets, e.g. 192.168.1")
	start := fs.String("start", strconv.Itoa(d.Start), "first host number")
	end := fs.String("end", strconv.Itoa(d.End), "last host number")
	port := fs.Int("port", e.cfg.Connection.Port, "server port")
	timeout := fs.Duration("timeout", 0, "stop starting probes after this long (0 = no limit)")
	verbose := fs.Bool("v", false, "print every host, not only compatible servers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, err := scanner.ParseRange(*prefix, *start, *end, *port)
	if err != nil {
		return err
	}

	ctx := e.ctx
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	hits, err := e.rt.Scanner.Scan(ctx, r)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(e.stdout, "scanning %s (%d hosts)\n", r, r.Size())

	summary := scanner.Summary{Total: r.Size()}
	for hit := range hits {
		summary.Add(hit)
		if (*verbose && !hit.Skipped) || hit.Compatible() {
			printHit(e.stdout, hit)
		}
	}
	printSummary(e.stdout, summary)

	return nil
}

func runBrowse(e *env, args []string) error {
	fs := newFlagSet("browse", e.stdout)
	service := fs.String("service", e.cfg.Discovery.MDNSService, "mDNS service type, e.g. _iina-remote._tcp")
	window := fs.Duration("for", defaultBrowseWindow, "how long to listen for announcements")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*service) == "" {
		return fmt.Errorf("%w: set -service or discovery.mdns_service", errUsage)
	}

	ctx, cancel := context.WithTimeout(e.ctx, *window)
	defer cancel()

	hits, err := e.rt.Scanner.Browse(ctx, *service)
	if err != nil {
		return err
	}
	var summary scanner.Summary
	for hit := range hits {
		summary.Total++
		summary.Add(hit)
		printHit(e.stdout, hit)
	}
	printSummary(e.stdout, summary)

	return nil
}

// parseEndpoint accepts "host" or "host:port"; a bare host gets defaultPort.
func parseEndpoint(raw string, defaultPort int) (string, int, error) {
	raw = strings.TrimSpace(raw)
	address, port := raw, defaultPort
	if host, rawPort, err := net.SplitHostPort(raw); err == nil {
		p, err := strconv.Atoi(rawPort)
		if err != nil {
			return "", 0, fmt.Errorf("%w: port %q is not a number", domain.ErrInvalidAddress, rawPort)
		}
		address, port = host, p
	}
	if err := domain.ValidateEndpoint(address, port); err != nil {
		return "", 0, err
	}

	return address, port, nil
}

func printHit(w io.Writer, hit scanner.Hit) {
	endpoint := domain.NewServerKey(hit.Address, hit.Port).String()
	switch {
	case hit.Skipped:
		_, _ = fmt.Fprintf(w, "%-21s skipped\n", endpoint)
	case hit.Outcome == probe.OutcomeCompatible:
		_, _ = fmt.Fprintf(w, "%-21s %-15s %q (%s)\n", endpoint, hit.Outcome, hit.Name, hit.Elapsed.Round(time.Millisecond))
	default:
		detail := ""
		if hit.Err != nil {
			detail = hit.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%-21s %-15s %s\n", endpoint, hit.Outcome, detail)
	}
}

func printSummary(w io.Writer, s scanner.Summary) {
	_, _ = fmt.Fprintf(w, "%d hosts: %d compatible, %d other, %d unreachable, %d skipped\n",
		s.Total, s.Compatible, s.NonCompatible, s.Unreachable, s.Cancelled)
}
