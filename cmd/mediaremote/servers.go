package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/skobkin/mediaremote/internal/domain"
)

type serverView struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen,omitempty"`
	LastUsed bool   `json:"lastUsed,omitempty"`
}

func runServers(e *env, args []string) error {
	fs := newFlagSet("servers", e.stdout)
	asJSON := fs.Bool("json", false, "print the list as JSON")
	remove := fs.String("remove", "", "forget the server at host[:port]")
	test := fs.String("test", "", "test reachability of the server at host[:port]")
	check := fs.Bool("check", false, "test the most recently seen server")
	clearAll := fs.Bool("clear", false, "forget every server")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := e.rt.Registry
	switch {
	case *clearAll:
		if err := reg.Clear(e.ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(e.stdout, "all servers removed")

		return nil
	case *remove != "":
		address, port, err := parseEndpoint(*remove, e.cfg.Connection.Port)
		if err != nil {
			return err
		}
		if err := reg.Remove(e.ctx, address, port); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(e.stdout, "removed %s\n", domain.NewServerKey(address, port))

		return nil
	case *test != "":
		address, port, err := parseEndpoint(*test, e.cfg.Connection.Port)
		if err != nil {
			return err
		}
		status, err := reg.TestServer(e.ctx, e.rt.Prober, address, port)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(e.stdout, "%s %s\n", domain.NewServerKey(address, port), status)

		return nil
	case *check:
		record, ok, err := e.rt.CheckLastServer(e.ctx)
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(e.stdout, "no known servers")

			return nil
		}
		_, _ = fmt.Fprintf(e.stdout, "%s %s\n", record.Key(), record.Status)

		return nil
	}

	last, hasLast := reg.LastUsed()
	records := reg.List()
	if !*asJSON {
		printServers(e.stdout, records, last, hasLast, time.Now())

		return nil
	}

	views := make([]serverView, 0, len(records))
	for _, record := range records {
		v := serverView{
			Name:     record.Name,
			Address:  record.Address,
			Port:     record.Port,
			Status:   string(record.Status),
			LastUsed: hasLast && record.Key() == last,
		}
		if record.HasLastSeen() {
			v.LastSeen = record.LastSeen.UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(views)
}

func printServers(w io.Writer, records []domain.ServerRecord, last domain.ServerKey, hasLast bool, now time.Time) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "no known servers")

		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\tNAME\tENDPOINT\tSTATUS\tLAST SEEN")
	for _, record := range records {
		marker := ""
		if hasLast && record.Key() == last {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			marker, record.Name, record.Key(), record.Status, domain.FormatLastSeen(record.LastSeen, now))
	}
	_ = tw.Flush()
}
