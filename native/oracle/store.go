package oracle

import (
	"bytes"
	"fmt"
	"math/big"
	"time"
)

// Storage abstracts the subset of state manager functionality required by the
// oracle module. Values are serialized by the implementation (RLP in the
// production adapter).
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

type storedDataPoint struct {
	Price      *big.Int
	Timestamp  uint64
	Confidence uint64
	Provider   [20]byte
}

func (s storedDataPoint) dataPoint() DataPoint {
	dp := DataPoint{
		Timestamp:  time.Unix(int64(s.Timestamp), 0).UTC(),
		Confidence: s.Confidence,
		Provider:   ProviderID(s.Provider),
	}
	if s.Price != nil {
		dp.Price = new(big.Int).Set(s.Price)
	} else {
		dp.Price = big.NewInt(0)
	}
	return dp
}

// storedHistoryMeta tracks the live window of an asset's ring buffer. Start is
// the sequence number of the oldest retained slot; slots below Start have been
// evicted or pruned and their sequence numbers are never reused.
type storedHistoryMeta struct {
	Start uint64
	Count uint64
}

type storedSubmitterIndex struct {
	Providers [][]byte
}

type storedLastSubmission struct {
	Timestamp uint64
}

// Store maintains the bounded, time-ordered observation history for every
// asset, plus the per-(provider, asset) submission clocks used by rate
// limiting.
type Store struct {
	store Storage
	clock func() time.Time
}

// NewStore constructs a data point store backed by the provided storage.
func NewStore(store Storage) *Store {
	return &Store{store: store, clock: time.Now}
}

// SetClock overrides the time source for deterministic testing.
func (s *Store) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

func (s *Store) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now()
	}
	return s.clock()
}

func (s *Store) meta(asset AssetID) (storedHistoryMeta, error) {
	var meta storedHistoryMeta
	if _, err := s.store.KVGet(historyMetaKey(asset), &meta); err != nil {
		return storedHistoryMeta{}, fmt.Errorf("oracle: load history meta: %w", err)
	}
	return meta, nil
}

// Append stores a validated observation, evicting the oldest entry first when
// the history is at capacity. Eviction is O(1): only the departing slot and
// the meta record are touched.
func (s *Store) Append(asset AssetID, dp DataPoint, maxHistory uint64) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("oracle: store not configured")
	}
	if maxHistory == 0 {
		return fmt.Errorf("oracle: history capacity must be positive")
	}
	meta, err := s.meta(asset)
	if err != nil {
		return err
	}
	for meta.Count >= maxHistory {
		if err := s.store.KVDelete(historySlotKey(asset, meta.Start)); err != nil {
			return fmt.Errorf("oracle: evict slot: %w", err)
		}
		meta.Start++
		meta.Count--
	}
	record := storedDataPoint{
		Timestamp:  uint64(dp.Timestamp.Unix()),
		Confidence: dp.Confidence,
		Provider:   dp.Provider,
	}
	if dp.Price != nil {
		record.Price = new(big.Int).Set(dp.Price)
	} else {
		record.Price = big.NewInt(0)
	}
	if err := s.store.KVPut(historySlotKey(asset, meta.Start+meta.Count), record); err != nil {
		return fmt.Errorf("oracle: store observation: %w", err)
	}
	meta.Count++
	if err := s.store.KVPut(historyMetaKey(asset), meta); err != nil {
		return fmt.Errorf("oracle: store history meta: %w", err)
	}
	return nil
}

// History returns the non-expired observations for the asset in chronological
// order, most recent last. Expiry is evaluated at read time against the
// supplied validity window, independent of whether a pruning pass has run.
// When limit is positive only the most recent entries are returned. The read
// never mutates state.
func (s *Store) History(asset AssetID, limit int, maxValidity time.Duration) ([]DataPoint, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("oracle: store not configured")
	}
	meta, err := s.meta(asset)
	if err != nil {
		return nil, err
	}
	cutoff := time.Time{}
	if maxValidity > 0 {
		cutoff = s.now().Add(-maxValidity)
	}
	points := make([]DataPoint, 0, meta.Count)
	for seq := meta.Start; seq < meta.Start+meta.Count; seq++ {
		var record storedDataPoint
		ok, err := s.store.KVGet(historySlotKey(asset, seq), &record)
		if err != nil {
			return nil, fmt.Errorf("oracle: load observation: %w", err)
		}
		if !ok {
			continue
		}
		dp := record.dataPoint()
		if !cutoff.IsZero() && dp.Timestamp.Before(cutoff) {
			continue
		}
		points = append(points, dp)
	}
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points, nil
}

// Latest returns the most recent non-expired observation, if any.
func (s *Store) Latest(asset AssetID, maxValidity time.Duration) (DataPoint, bool, error) {
	if s == nil || s.store == nil {
		return DataPoint{}, false, fmt.Errorf("oracle: store not configured")
	}
	meta, err := s.meta(asset)
	if err != nil {
		return DataPoint{}, false, err
	}
	cutoff := time.Time{}
	if maxValidity > 0 {
		cutoff = s.now().Add(-maxValidity)
	}
	// Insertion order only tracks timestamp order per provider, so the
	// whole ring is scanned for the newest non-expired observation.
	var latest DataPoint
	found := false
	for seq := meta.Start; seq < meta.Start+meta.Count; seq++ {
		var record storedDataPoint
		ok, err := s.store.KVGet(historySlotKey(asset, seq), &record)
		if err != nil {
			return DataPoint{}, false, fmt.Errorf("oracle: load observation: %w", err)
		}
		if !ok {
			continue
		}
		dp := record.dataPoint()
		if !cutoff.IsZero() && dp.Timestamp.Before(cutoff) {
			continue
		}
		if !found || dp.Timestamp.After(latest.Timestamp) {
			latest = dp
			found = true
		}
	}
	return latest, found, nil
}

// PruneExpired physically removes expired entries from the front of the ring.
// Reads already exclude expired entries; pruning only reclaims storage.
func (s *Store) PruneExpired(asset AssetID, maxValidity time.Duration) (uint64, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("oracle: store not configured")
	}
	if maxValidity <= 0 {
		return 0, nil
	}
	meta, err := s.meta(asset)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxValidity)
	removed := uint64(0)
	for meta.Count > 0 {
		var record storedDataPoint
		ok, err := s.store.KVGet(historySlotKey(asset, meta.Start), &record)
		if err != nil {
			return removed, fmt.Errorf("oracle: load observation: %w", err)
		}
		if ok && !record.dataPoint().Timestamp.Before(cutoff) {
			break
		}
		if err := s.store.KVDelete(historySlotKey(asset, meta.Start)); err != nil {
			return removed, fmt.Errorf("oracle: prune slot: %w", err)
		}
		meta.Start++
		meta.Count--
		removed++
	}
	if removed > 0 {
		if err := s.store.KVPut(historyMetaKey(asset), meta); err != nil {
			return removed, fmt.Errorf("oracle: store history meta: %w", err)
		}
	}
	return removed, nil
}

// DeleteAsset clears all observation state for the asset, including the
// per-provider submission clocks, so resubmission starts from a clean slate.
func (s *Store) DeleteAsset(asset AssetID) (uint64, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("oracle: store not configured")
	}
	meta, err := s.meta(asset)
	if err != nil {
		return 0, err
	}
	removed := meta.Count
	for seq := meta.Start; seq < meta.Start+meta.Count; seq++ {
		if err := s.store.KVDelete(historySlotKey(asset, seq)); err != nil {
			return 0, fmt.Errorf("oracle: delete slot: %w", err)
		}
	}
	if err := s.store.KVDelete(historyMetaKey(asset)); err != nil {
		return 0, fmt.Errorf("oracle: delete history meta: %w", err)
	}
	var index storedSubmitterIndex
	if _, err := s.store.KVGet(submitterIndexKey(asset), &index); err != nil {
		return 0, fmt.Errorf("oracle: load submitter index: %w", err)
	}
	for _, raw := range index.Providers {
		var provider ProviderID
		copy(provider[:], raw)
		if err := s.store.KVDelete(lastSubmissionKey(asset, provider)); err != nil {
			return 0, fmt.Errorf("oracle: clear submission clock: %w", err)
		}
	}
	if err := s.store.KVDelete(submitterIndexKey(asset)); err != nil {
		return 0, fmt.Errorf("oracle: delete submitter index: %w", err)
	}
	return removed, nil
}

// LastSubmission returns the recorded submission time for the provider and
// asset, if one exists.
func (s *Store) LastSubmission(asset AssetID, provider ProviderID) (time.Time, bool, error) {
	if s == nil || s.store == nil {
		return time.Time{}, false, fmt.Errorf("oracle: store not configured")
	}
	var record storedLastSubmission
	ok, err := s.store.KVGet(lastSubmissionKey(asset, provider), &record)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("oracle: load submission clock: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	return time.Unix(int64(record.Timestamp), 0).UTC(), true, nil
}

// SetLastSubmission records the submission clock and tracks the provider in
// the per-asset submitter index so DeleteAsset can reset it later.
func (s *Store) SetLastSubmission(asset AssetID, provider ProviderID, ts time.Time) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("oracle: store not configured")
	}
	record := storedLastSubmission{Timestamp: uint64(ts.Unix())}
	if err := s.store.KVPut(lastSubmissionKey(asset, provider), record); err != nil {
		return fmt.Errorf("oracle: store submission clock: %w", err)
	}
	var index storedSubmitterIndex
	if _, err := s.store.KVGet(submitterIndexKey(asset), &index); err != nil {
		return fmt.Errorf("oracle: load submitter index: %w", err)
	}
	for _, raw := range index.Providers {
		if bytes.Equal(raw, provider[:]) {
			return nil
		}
	}
	index.Providers = append(index.Providers, append([]byte(nil), provider[:]...))
	if err := s.store.KVPut(submitterIndexKey(asset), index); err != nil {
		return fmt.Errorf("oracle: store submitter index: %w", err)
	}
	return nil
}
