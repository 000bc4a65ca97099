package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/skobkin/mediaremote/internal/bus"
	"github.com/skobkin/mediaremote/internal/connectors"
	"github.com/skobkin/mediaremote/internal/domain"
	"github.com/skobkin/mediaremote/internal/persistence"
)

var ErrUnknownServer = errors.New("server is not in the registry")

// ReachabilityTester opens and closes a connection to check that a server answers.
type ReachabilityTester interface {
	TestReachable(ctx context.Context, address string, port int) bool
}

type Option func(*Registry)

func WithBus(b bus.MessageBus) Option {
	return func(r *Registry) {
		r.bus = b
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry is the set of known servers. Every mutation is stored before it returns.
type Registry struct {
	logger *slog.Logger
	store  persistence.KVStore
	bus    bus.MessageBus
	now    func() time.Time

	mu          sync.RWMutex
	records     map[domain.ServerKey]domain.ServerRecord
	lastUsed    domain.ServerKey
	hasLastUsed bool
}

func New(logger *slog.Logger, store persistence.KVStore, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "registry")
	}
	r := &Registry{
		logger:  logger,
		store:   store,
		now:     time.Now,
		records: make(map[domain.ServerKey]domain.ServerRecord),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Load replaces the in-memory set with the stored one. Servers stored as online
// become checking. The most recently seen server is returned so that the caller
// can probe it once.
func (r *Registry) Load(ctx context.Context) (domain.ServerRecord, bool, error) {
	raw, _, err := r.store.Get(ctx, persistence.KeyDiscoveredServers)
	if err != nil {
		return domain.ServerRecord{}, false, fmt.Errorf("load server list: %w", err)
	}
	records, skipped, err := decodeRecords(raw)
	if err != nil {
		return domain.ServerRecord{}, false, err
	}
	if skipped > 0 {
		r.logger.Warn("skipped invalid stored servers", "count", skipped)
	}
	reset := 0
	for key, record := range records {
		if record.Status == domain.ServerStatusOnline {
			record.Status = domain.ServerStatusChecking
			records[key] = record
			reset++
		}
	}
	if reset > 0 {
		if err := r.storeRecords(ctx, records); err != nil {
			return domain.ServerRecord{}, false, err
		}
	}

	lastUsed, hasLastUsed, err := r.loadLastUsed(ctx)
	if err != nil {
		return domain.ServerRecord{}, false, err
	}

	r.mu.Lock()
	r.records = records
	r.lastUsed = lastUsed
	r.hasLastUsed = hasLastUsed
	recent, ok := mostRecentlySeen(records)
	r.mu.Unlock()

	r.logger.Info("loaded servers", "count", len(records), "has_last_used", hasLastUsed)
	r.publish(connectors.RegistryChanged{Kind: connectors.RegistryChangeLoad})

	return recent, ok, nil
}

func (r *Registry) loadLastUsed(ctx context.Context) (domain.ServerKey, bool, error) {
	address, okAddr, err := r.store.Get(ctx, persistence.KeyServerAddress)
	if err != nil {
		return domain.ServerKey{}, false, fmt.Errorf("load last used address: %w", err)
	}
	rawPort, okPort, err := r.store.Get(ctx, persistence.KeyServerPort)
	if err != nil {
		return domain.ServerKey{}, false, fmt.Errorf("load last used port: %w", err)
	}
	if !okAddr || !okPort {
		return domain.ServerKey{}, false, nil
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		r.logger.Warn("ignoring stored port", "value", rawPort, "error", err)

		return domain.ServerKey{}, false, nil
	}
	key := domain.NewServerKey(address, port)
	if key.Validate() != nil {
		return domain.ServerKey{}, false, nil
	}

	return key, true, nil
}

// CheckMostRecent probes the most recently seen server once and records the result.
func (r *Registry) CheckMostRecent(ctx context.Context, tester ReachabilityTester) (domain.ServerRecord, bool, error) {
	recent, ok := r.MostRecentlySeen()
	if !ok {
		return domain.ServerRecord{}, false, nil
	}
	if _, err := r.TestServer(ctx, tester, recent.Address, recent.Port); err != nil {
		return recent, true, err
	}
	updated, _ := r.Get(recent.Address, recent.Port)

	return updated, true, nil
}

// TestServer marks the server as checking, tests it and stores online or offline.
func (r *Registry) TestServer(ctx context.Context, tester ReachabilityTester, address string, port int) (domain.ServerStatus, error) {
	if _, ok := r.Get(address, port); !ok {
		return domain.ServerStatusUnknown, fmt.Errorf("%w: %s", ErrUnknownServer, domain.NewServerKey(address, port))
	}
	if err := r.UpdateStatus(ctx, address, port, domain.ServerStatusChecking); err != nil {
		return domain.ServerStatusUnknown, err
	}

	status := domain.ServerStatusOffline
	if tester.TestReachable(ctx, address, port) {
		status = domain.ServerStatusOnline
	} else if err := ctx.Err(); err != nil {
		// An interrupted test says nothing about the server; it stays checking.
		return domain.ServerStatusChecking, err
	}
	if err := r.UpdateStatus(context.WithoutCancel(ctx), address, port, status); err != nil {
		return status, err
	}

	return status, nil
}

// Upsert validates the record and inserts or replaces it.
func (r *Registry) Upsert(ctx context.Context, record domain.ServerRecord) error {
	record = record.Normalized()
	if err := record.Validate(); err != nil {
		return err
	}
	key := record.Key()

	r.mu.Lock()
	prev, had := r.records[key]
	r.records[key] = record
	if err := r.persistServersLocked(ctx); err != nil {
		if had {
			r.records[key] = prev
		} else {
			delete(r.records, key)
		}
		r.mu.Unlock()

		return err
	}
	r.mu.Unlock()

	r.logger.Debug("server upserted", "address", record.Address, "port", record.Port, "status", record.Status)
	r.publish(connectors.RegistryChanged{Kind: connectors.RegistryChangeUpsert, Key: key, Record: record})

	return nil
}

// Remove deletes the server; removing an unknown server is a no-op.
func (r *Registry) Remove(ctx context.Context, address string, port int) error {
	key := domain.NewServerKey(address, port)

	r.mu.Lock()
	prev, had := r.records[key]
	if !had {
		r.mu.Unlock()

		return nil
	}
	delete(r.records, key)
	if err := r.persistServersLocked(ctx); err != nil {
		r.records[key] = prev
		r.mu.Unlock()

		return err
	}
	if r.hasLastUsed && r.lastUsed == key {
		if err := r.clearLastUsedLocked(ctx); err != nil {
			r.mu.Unlock()

			return err
		}
	}
	r.mu.Unlock()

	r.logger.Debug("server removed", "address", key.Address, "port", key.Port)
	r.publish(connectors.RegistryChanged{Kind: connectors.RegistryChangeRemove, Key: key, Record: prev})

	return nil
}

// Clear forgets every server and the last used endpoint.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	prev := r.records
	if c, ok := r.store.(persistence.Clearer); ok {
		if err := c.Clear(ctx); err != nil {
			r.mu.Unlock()

			return fmt.Errorf("clear store: %w", err)
		}
		r.records = make(map[domain.ServerKey]domain.ServerRecord)
		r.lastUsed = domain.ServerKey{}
		r.hasLastUsed = false
		r.mu.Unlock()

		r.logger.Info("servers cleared", "count", len(prev))
		r.publish(connectors.RegistryChanged{Kind: connectors.RegistryChangeClear})

		return nil
	}

	r.records = make(map[domain.ServerKey]domain.ServerRecord)
	if err := r.persistServersLocked(ctx); err != nil {
		r.records = prev
		r.mu.Unlock()

		return err
	}
	if err := r.clearLastUsedLocked(ctx); err != nil {
		r.mu.Unlock()

		return err
	}
	r.mu.Unlock()

	r.logger.Info("servers cleared", "count", len(prev))
	r.publish(connectors.RegistryChanged{Kind: connectors.RegistryChangeClear})

	return nil
}

// UpdateStatus sets the status of a known server and stamps LastSeen when it is online.
// Unknown servers are ignored.
func (r *Registry) UpdateStatus(ctx context.Context, address string, port int, status domain.ServerStatus) error {
	key := domain.NewServerKey(address, port)

	r.mu.Lock()
	prev, had := r.records[key]
	if !had {
		r.mu.Unlock()

		return nil
	}
	updated := prev
	updated.Status = status
	if status == domain.ServerStatusOnline {
		updated.LastSeen = r.now()
	}
	r.records[key] = updated
	if err := r.persistServersLocked(ctx); err != nil {
		r.records[key] = prev
		r.mu.Unlock()

		return err
	}
	r.mu.Unlock()

	r.publish(connectors.RegistryChanged{Kind: connectors.RegistryChangeStatus, Key: key, Record: updated})

	return nil
}

func (r *Registry) Get(address string, port int) (domain.ServerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[domain.NewServerKey(address, port)]

	return record, ok
}

// List returns every server, most recently seen first, then in key order.
func (r *Registry) List() []domain.ServerRecord {
	r.mu.RLock()
	out := sortedByKey(r.records)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})

	return out
}

func (r *Registry) MostRecentlySeen() (domain.ServerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return mostRecentlySeen(r.records)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

// SetLastUsed stores the endpoint of the last connection attempt.
func (r *Registry) SetLastUsed(ctx context.Context, address string, port int) error {
	key := domain.NewServerKey(address, port)
	if err := key.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, hadPrev := r.lastUsed, r.hasLastUsed
	if err := r.store.Set(ctx, persistence.KeyServerAddress, key.Address); err != nil {
		return fmt.Errorf("store last used address: %w", err)
	}
	if err := r.store.Set(ctx, persistence.KeyServerPort, strconv.Itoa(key.Port)); err != nil {
		r.restoreLastUsedLocked(ctx, prev, hadPrev)

		return fmt.Errorf("store last used port: %w", err)
	}
	r.lastUsed = key
	r.hasLastUsed = true

	return nil
}

func (r *Registry) LastUsed() (domain.ServerKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastUsed, r.hasLastUsed
}

func (r *Registry) clearLastUsedLocked(ctx context.Context) error {
	if err := r.store.Delete(ctx, persistence.KeyServerAddress); err != nil {
		return fmt.Errorf("clear last used address: %w", err)
	}
	if err := r.store.Delete(ctx, persistence.KeyServerPort); err != nil {
		return fmt.Errorf("clear last used port: %w", err)
	}
	r.lastUsed = domain.ServerKey{}
	r.hasLastUsed = false

	return nil
}

// restoreLastUsedLocked undoes a half-written last used pair on a best effort basis.
func (r *Registry) restoreLastUsedLocked(ctx context.Context, prev domain.ServerKey, had bool) {
	var err error
	if had {
		err = r.store.Set(ctx, persistence.KeyServerAddress, prev.Address)
	} else {
		err = r.store.Delete(ctx, persistence.KeyServerAddress)
	}
	if err != nil {
		r.logger.Warn("restore last used address failed", "error", err)
	}
}

func (r *Registry) persistServersLocked(ctx context.Context) error {
	return r.storeRecords(ctx, r.records)
}

func (r *Registry) storeRecords(ctx context.Context, records map[domain.ServerKey]domain.ServerRecord) error {
	raw, err := encodeRecords(sortedByKey(records))
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, persistence.KeyDiscoveredServers, raw); err != nil {
		return fmt.Errorf("store server list: %w", err)
	}

	return nil
}

func (r *Registry) publish(event connectors.RegistryChanged) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(connectors.TopicRegistryChanged, event)
}
