package localstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"reactionmap/progress/internal/api"
)

const (
	ProgressKey   = "chem.progress"
	LastSyncAtKey = "chem.lastSyncAt"
)

// Record is the local copy of one activity. Dirty records have not been acknowledged by the server.
// Revision increases with every local write of the activity and survives remote replacement.
type Record struct {
	ActivityID string         `json:"activityId"`
	State      map[string]any `json:"state"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Dirty      bool           `json:"dirty"`
	Revision   uint64         `json:"revision,omitempty"`
}

// Batch is the set of dirty records taken for one push.
type Batch struct {
	Updates   []api.ProgressUpdate
	revisions map[string]uint64
}

func (b Batch) Len() int { return len(b.Updates) }

type MergeResult struct {
	LatestRemoteAt *time.Time
	Merged         int
}

type ProgressStore struct {
	mu      sync.Mutex
	storage Storage
	now     func() time.Time
}

func NewProgressStore(storage Storage) *ProgressStore {
	return &ProgressStore{storage: storage, now: time.Now}
}

// QueueUpdate overwrites the local state of an activity and marks it dirty.
func (s *ProgressStore) QueueUpdate(activityID string, state map[string]any) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.read()
	if state == nil {
		state = map[string]any{}
	}
	rec := Record{
		ActivityID: activityID,
		State:      state,
		UpdatedAt:  s.now().UTC(),
		Dirty:      true,
		Revision:   records[activityID].Revision + 1,
	}
	records[activityID] = rec
	return rec, s.write(records)
}

func (s *ProgressStore) PendingUpdates() Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.read()
	batch := Batch{revisions: make(map[string]uint64)}
	for _, rec := range sorted(records) {
		if !rec.Dirty {
			continue
		}
		batch.Updates = append(batch.Updates, api.ProgressUpdate{ActivityID: rec.ActivityID, State: rec.State})
		batch.revisions[rec.ActivityID] = rec.Revision
	}
	return batch
}

// ReplaceFromJoin swaps the whole map for a server snapshot and returns its latest timestamp.
func (s *ProgressStore) ReplaceFromJoin(remote []api.ProgressRecord) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.read()
	records := make(map[string]Record, len(remote))
	var latest *time.Time
	for _, r := range remote {
		rec := fromRemote(r)
		rec.Revision = previous[r.ActivityID].Revision
		records[r.ActivityID] = rec
		latest = later(latest, r.UpdatedAt)
	}
	return latest, s.write(records)
}

// MergeRemote applies pulled records. A remote record wins only when it is strictly newer
// than the local one or there is no local one.
func (s *ProgressStore) MergeRemote(remote []api.ProgressRecord) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.read()
	result := MergeResult{Merged: len(remote)}
	for _, r := range remote {
		result.LatestRemoteAt = later(result.LatestRemoteAt, r.UpdatedAt)
		local, ok := records[r.ActivityID]
		if !ok || r.UpdatedAt.After(local.UpdatedAt) {
			rec := fromRemote(r)
			rec.Revision = local.Revision
			records[r.ActivityID] = rec
		}
	}
	return result, s.write(records)
}

// ApplySaveAck confirms pushed records. Acks for records removed in the meantime are ignored.
// With a non-empty pushed batch, a record queued again after the push was taken stays dirty.
func (s *ProgressStore) ApplySaveAck(resp api.SaveResponse, pushed Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.read()
	for _, ack := range resp.Progress {
		rec, ok := records[ack.ActivityID]
		if !ok {
			continue
		}
		if revision, tracked := pushed.revisions[ack.ActivityID]; tracked && revision != rec.Revision {
			continue
		}
		rec.UpdatedAt = ack.UpdatedAt
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = resp.UpdatedAt
		}
		rec.Dirty = false
		records[ack.ActivityID] = rec
	}
	return s.write(records)
}

func (s *ProgressStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.read())
}

func (s *ProgressStore) Get(activityID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.read()[activityID]
	return rec, ok
}

func (s *ProgressStore) LastSyncAt() *time.Time {
	raw, ok, err := s.storage.Get(LastSyncAtKey)
	if err != nil || !ok {
		return nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return &ts
}

// SetLastSyncAt stores the cursor; nil clears it.
func (s *ProgressStore) SetLastSyncAt(ts *time.Time) error {
	if ts == nil {
		return s.storage.Remove(LastSyncAtKey)
	}
	raw, err := json.Marshal(ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	return s.storage.Set(LastSyncAtKey, raw)
}

// Reset drops all local progress and the sync cursor.
func (s *ProgressStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Remove(ProgressKey); err != nil {
		return err
	}
	return s.storage.Remove(LastSyncAtKey)
}

type storedRecord struct {
	State     json.RawMessage `json:"state"`
	UpdatedAt *string         `json:"updatedAt"`
	Dirty     *bool           `json:"dirty"`
	Revision  uint64          `json:"revision"`
}

// read never fails: unreadable data degrades to an empty map, and unreadable entries are skipped.
func (s *ProgressStore) read() map[string]Record {
	records := make(map[string]Record)
	raw, ok, err := s.storage.Get(ProgressKey)
	if err != nil || !ok {
		return records
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return records
	}
	for id, entry := range entries {
		var stored storedRecord
		if err := json.Unmarshal(entry, &stored); err != nil {
			continue
		}
		rec := Record{ActivityID: id, State: map[string]any{}, UpdatedAt: time.Unix(0, 0).UTC()}
		var state map[string]any
		if json.Unmarshal(stored.State, &state) == nil && state != nil {
			rec.State = state
		}
		if stored.UpdatedAt != nil {
			if ts, err := time.Parse(time.RFC3339Nano, *stored.UpdatedAt); err == nil {
				rec.UpdatedAt = ts
			}
		}
		if stored.Dirty != nil {
			rec.Dirty = *stored.Dirty
		}
		rec.Revision = stored.Revision
		records[id] = rec
	}
	return records
}

func (s *ProgressStore) write(records map[string]Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := s.storage.Set(ProgressKey, raw); err != nil {
		return fmt.Errorf("store progress: %w", err)
	}
	return nil
}

func fromRemote(r api.ProgressRecord) Record {
	state := r.State
	if state == nil {
		state = map[string]any{}
	}
	return Record{ActivityID: r.ActivityID, State: state, UpdatedAt: r.UpdatedAt, Dirty: false}
}

func later(current *time.Time, candidate time.Time) *time.Time {
	if current == nil || candidate.After(*current) {
		ts := candidate
		return &ts
	}
	return current
}

func sorted(records map[string]Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityID < out[j].ActivityID })
	return out
}
