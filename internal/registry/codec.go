package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/skobkin/mediaremote/internal/domain"
)

type recordJSON struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen,omitempty"`
}

func encodeRecords(records []domain.ServerRecord) (string, error) {
	items := make([]recordJSON, 0, len(records))
	for _, record := range records {
		item := recordJSON{
			Name:    record.Name,
			Address: record.Address,
			Port:    record.Port,
			Status:  string(record.Status),
		}
		if record.HasLastSeen() {
			item.LastSeen = record.LastSeen.UTC().Format(time.RFC3339Nano)
		}
		items = append(items, item)
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode server list: %w", err)
	}

	return string(raw), nil
}

// decodeRecords parses the stored list. Entries that cannot identify a server are
// returned in skipped; duplicate keys keep the later entry.
func decodeRecords(raw string) (records map[domain.ServerKey]domain.ServerRecord, skipped int, err error) {
	records = make(map[domain.ServerKey]domain.ServerRecord)
	if raw == "" {
		return records, 0, nil
	}

	var items []recordJSON
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, 0, fmt.Errorf("decode server list: %w", err)
	}

	for _, item := range items {
		record := domain.ServerRecord{
			Name:    item.Name,
			Address: item.Address,
			Port:    item.Port,
			Status:  domain.ParseServerStatus(item.Status),
		}
		if item.LastSeen != "" {
			seen, err := time.Parse(time.RFC3339Nano, item.LastSeen)
			if err == nil {
				record.LastSeen = seen
			}
		}
		record = record.Normalized()
		if err := record.Validate(); err != nil {
			skipped++

			continue
		}
		records[record.Key()] = record
	}

	return records, skipped, nil
}

func sortedKeys(records map[domain.ServerKey]domain.ServerRecord) []domain.ServerKey {
	keys := make([]domain.ServerKey, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	return keys
}

func sortedByKey(records map[domain.ServerKey]domain.ServerRecord) []domain.ServerRecord {
	keys := sortedKeys(records)
	out := make([]domain.ServerRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, records[key])
	}

	return out
}

// mostRecentlySeen picks the latest LastSeen. Ties and the no-timestamp case
// fall back to key order.
func mostRecentlySeen(records map[domain.ServerKey]domain.ServerRecord) (domain.ServerRecord, bool) {
	keys := sortedKeys(records)
	if len(keys) == 0 {
		return domain.ServerRecord{}, false
	}

	best := records[keys[0]]
	for _, key := range keys[1:] {
		candidate := records[key]
		if !candidate.HasLastSeen() {
			continue
		}
		if !best.HasLastSeen() || candidate.LastSeen.After(best.LastSeen) {
			best = candidate
		}
	}

	return best, true
}
