package app

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/skobkin/mediaremote/internal/config"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/iinatest"
	"github.com/skobkin/mediaremote/internal/logging"
	"github.com/skobkin/mediaremote/internal/persistence"
	"github.com/skobkin/mediaremote/internal/reconnect"
)

func newTestRuntime(t *testing.T, cfg config.AppConfig, fs afero.Fs) *Runtime {
	t.Helper()

	paths, err := PathsIn(t.TempDir())
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	rt, err := NewRuntime(context.Background(), paths, cfg, RuntimeOptions{
		Logs: logging.NewManager(io.Discard),
		Fs:   fs,
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	return rt
}

func fileBackendConfig() config.AppConfig {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageBackendFile

	return cfg
}

func waitForState(t *testing.T, rt *Runtime, want domain.ConnectionState) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rt.Controller.CurrentConnectionState().State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection did not reach %s, last %+v", want, rt.Controller.CurrentConnectionState())
}

func TestRuntimeConnectRecordsManualServer(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{})
	rt := newTestRuntime(t, fileBackendConfig(), afero.NewMemMapFs())

	if err := rt.Connect(context.Background(), srv.Host, srv.Port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, rt, domain.ConnectionStateConnected)

	record, ok := rt.Registry.Get(srv.Host, srv.Port)
	if !ok {
		t.Fatalf("expected manual server to be recorded")
	}
	if record.Name != domain.DefaultServerName(srv.Host) {
		t.Fatalf("unexpected name %q", record.Name)
	}
	if record.Status != domain.ServerStatusChecking {
		t.Fatalf("expected checking status, got %s", record.Status)
	}
	last, ok := rt.Registry.LastUsed()
	if !ok || last != domain.NewServerKey(srv.Host, srv.Port) {
		t.Fatalf("expected last used to be the server, got %+v (%t)", last, ok)
	}
}

func TestRuntimeOpenDeepLink(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{})
	rt := newTestRuntime(t, fileBackendConfig(), afero.NewMemMapFs())

	link := "https://remote.example/#/?ip=" + srv.Host + "&port=" + strconv.Itoa(srv.Port)
	key, err := rt.OpenDeepLink(context.Background(), link)
	if err != nil {
		t.Fatalf("open deep link: %v", err)
	}
	waitForState(t, rt, domain.ConnectionStateConnected)

	record, ok := rt.Registry.Get(key.Address, key.Port)
	if !ok || record.Name != domain.DeepLinkServerName(srv.Host) {
		t.Fatalf("unexpected deep link record %+v (%t)", record, ok)
	}
}

func TestRuntimeConnectKeepsLastSeen(t *testing.T) {
	rt := newTestRuntime(t, fileBackendConfig(), afero.NewMemMapFs())
	ctx := context.Background()
	seen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := rt.Registry.Upsert(ctx, domain.ServerRecord{Name: "Mac", Address: "127.0.0.1", Port: 1, Status: domain.ServerStatusOnline, LastSeen: seen}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := rt.Connect(ctx, "127.0.0.1", 1); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rt.Disconnect()

	record, _ := rt.Registry.Get("127.0.0.1", 1)
	if !record.LastSeen.Equal(seen) {
		t.Fatalf("expected last seen to survive manual connect, got %s", record.LastSeen)
	}
}

func TestRuntimeConnectKnownWithoutLastUsed(t *testing.T) {
	rt := newTestRuntime(t, fileBackendConfig(), afero.NewMemMapFs())

	if err := rt.ConnectKnown(context.Background(), "", 0); !errors.Is(err, reconnect.ErrNoTarget) {
		t.Fatalf("expected %v, got %v", reconnect.ErrNoTarget, err)
	}
}

func TestRuntimeChecksMostRecentServerOnStartup(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{})
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	paths, err := PathsIn(t.TempDir())
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	store := persistence.NewFileStore(fs, paths.StoreFile)
	raw := `[{"name":"Mac","address":"` + srv.Host + `","port":` + strconv.Itoa(srv.Port) + `,"status":"online","lastSeen":"2026-05-01T12:00:00Z"}]`
	if err := store.Set(ctx, persistence.KeyDiscoveredServers, raw); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rt, err := NewRuntime(ctx, paths, fileBackendConfig(), RuntimeOptions{Logs: logging.NewManager(io.Discard), Fs: fs})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	deadline := time.Now().Add(3 * time.Second)
	for {
		record, _ := rt.Registry.Get(srv.Host, srv.Port)
		if record.Status == domain.ServerStatusOnline && srv.Accepted() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("startup check did not mark the server online, status %s accepted %d", record.Status, srv.Accepted())
		}
		time.Sleep(10 * time.Millisecond)
	}

	record, ok, err := rt.CheckLastServer(ctx)
	if err != nil || !ok {
		t.Fatalf("check last server: %+v %t %v", record, ok, err)
	}
	if record.Status != domain.ServerStatusOnline {
		t.Fatalf("expected online after check, got %s", record.Status)
	}
}

func TestRuntimeSaveConfig(t *testing.T) {
	rt := newTestRuntime(t, fileBackendConfig(), afero.NewMemMapFs())

	next := rt.CurrentConfig()
	next.Connection.Address = "10.0.0.9"
	if err := rt.SaveConfig(next); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := config.Load(rt.Paths.ConfigFile)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Connection.Address != "10.0.0.9" {
		t.Fatalf("expected saved address, got %q", loaded.Connection.Address)
	}
	if rt.CurrentConfig().Connection.Address != "10.0.0.9" {
		t.Fatalf("expected runtime config to be updated")
	}

	bad := next
	bad.Storage.Backend = "redis"
	if err := rt.SaveConfig(bad); err == nil {
		t.Fatalf("expected invalid config to be rejected")
	}
}

func TestRuntimeSQLiteBackend(t *testing.T) {
	paths, err := PathsIn(t.TempDir())
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	ctx := context.Background()

	rt, err := NewRuntime(ctx, paths, config.Default(), RuntimeOptions{Logs: logging.NewManager(io.Discard)})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := rt.Registry.Upsert(ctx, domain.ServerRecord{Address: "192.168.1.5", Port: 10010}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close runtime: %v", err)
	}

	reopened, err := NewRuntime(ctx, paths, config.Default(), RuntimeOptions{Logs: logging.NewManager(io.Discard)})
	if err != nil {
		t.Fatalf("reopen runtime: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if reopened.Registry.Len() != 1 {
		t.Fatalf("expected persisted server after reopen, got %d", reopened.Registry.Len())
	}
}

func TestRuntimeStartupCheckMarksMissingServerOffline(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{})
	host, port := srv.Host, srv.Port
	srv.Close()

	fs := afero.NewMemMapFs()
	ctx := context.Background()
	paths, err := PathsIn(t.TempDir())
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	raw := `[{"name":"Mac","address":"` + host + `","port":` + strconv.Itoa(port) + `,"status":"online","lastSeen":"2026-05-01T12:00:00Z"}]`
	if err := persistence.NewFileStore(fs, paths.StoreFile).Set(ctx, persistence.KeyDiscoveredServers, raw); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rt, err := NewRuntime(ctx, paths, fileBackendConfig(), RuntimeOptions{Logs: logging.NewManager(io.Discard), Fs: fs})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer func() { _ = rt.Close() }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		record, _ := rt.Registry.Get(host, port)
		if record.Status == domain.ServerStatusOffline {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected offline after startup check, got %s", record.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForMedia(t *testing.T, rt *Runtime, match func(domain.MediaStatus) bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if match(rt.Controller.CurrentStatus()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("media status never matched, last %+v", rt.Controller.CurrentStatus())
}

func TestRuntimeClearsMediaStatusWhenSessionEnds(t *testing.T) {
	srv := iinatest.NewServer(t, iinatest.Options{Status: map[string]any{"filename": "movie.mkv", "volume": 42, "hasMedia": true}})
	rt := newTestRuntime(t, fileBackendConfig(), afero.NewMemMapFs())
	playing := func(st domain.MediaStatus) bool { return st.Filename == "movie.mkv" && st.Volume == 42 }
	empty := func(st domain.MediaStatus) bool { return st == domain.EmptyMediaStatus() }

	if err := rt.Connect(context.Background(), srv.Host, srv.Port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForMedia(t, rt, playing)

	rt.Disconnect()
	waitForMedia(t, rt, empty)

	if err := rt.ConnectKnown(context.Background(), "", 0); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitForMedia(t, rt, playing)

	srv.DropConnections()
	waitForMedia(t, rt, empty)
}
