package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"assetfeed/internal/errs"
	"assetfeed/internal/model"
)

// diskPayload is the on-disk envelope, one JSON file per cache key.
type diskPayload struct {
	Key       string             `json:"key"`
	WrittenAt time.Time          `json:"written_at"`
	Points    []model.PricePoint `json:"points"`
}

// Disk is the on-disk tier. It survives process restarts and uses the same
// fresh/stale split as the memory tier, just with its own TTL.
type Disk struct {
	dir          string
	freshTTL     time.Duration
	staleHorizon time.Duration
	now          func() time.Time
}

func NewDisk(dir string, freshTTL, staleHorizon time.Duration) (*Disk, error) {
	if staleHorizon < freshTTL {
		staleHorizon = freshTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.KindCacheError, errs.WithDetail("create cache dir"), errs.WithCause(err))
	}
	return &Disk{dir: dir, freshTTL: freshTTL, staleHorizon: staleHorizon, now: time.Now}, nil
}

// sanitize maps a cache key to a filename-safe form.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

func (d *Disk) filename(key string) string {
	return filepath.Join(d.dir, sanitize(key)+".json")
}

func (d *Disk) read(key string) (*diskPayload, bool) {
	b, err := os.ReadFile(d.filename(key))
	if err != nil {
		return nil, false
	}
	var payload diskPayload
	if err := json.Unmarshal(b, &payload); err != nil {
		// corrupt file; drop it so the next write starts clean
		os.Remove(d.filename(key))
		return nil, false
	}
	return &payload, true
}

// Get returns the points for key and whether they are past the fresh TTL;
// ok is false when absent or past the stale horizon.
func (d *Disk) Get(key string) (points []model.PricePoint, stale bool, ok bool) {
	payload, found := d.read(key)
	if !found {
		return nil, false, false
	}
	age := d.now().Sub(payload.WrittenAt)
	if age >= d.staleHorizon {
		return nil, false, false
	}
	return payload.Points, age >= d.freshTTL, true
}

// GetStale returns the entry for key regardless of TTL.
func (d *Disk) GetStale(key string) ([]model.PricePoint, bool) {
	payload, found := d.read(key)
	if !found {
		return nil, false
	}
	return payload.Points, true
}

// Set writes points under key atomically (tmp file + rename).
func (d *Disk) Set(key string, points []model.PricePoint) error {
	payload := diskPayload{Key: key, WrittenAt: d.now(), Points: points}
	b, err := json.Marshal(payload)
	if err != nil {
		return errs.New(errs.KindCacheError, errs.WithDetail("marshal %s", key), errs.WithCause(err))
	}
	target := d.filename(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errs.New(errs.KindCacheError, errs.WithDetail("write %s", key), errs.WithCause(err))
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return errs.New(errs.KindCacheError, errs.WithDetail("rename %s", key), errs.WithCause(err))
	}
	return nil
}

// Invalidate removes every file belonging to symbol.
func (d *Disk) Invalidate(symbol string) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return
	}
	prefix := sanitize(symbol + ":")
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			os.Remove(filepath.Join(d.dir, e.Name()))
		}
	}
}

// SweepExpired deletes files past the stale horizon.
func (d *Disk) SweepExpired() int {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0
	}
	now := d.now()
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(d.dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var payload diskPayload
		if err := json.Unmarshal(b, &payload); err != nil {
			os.Remove(path)
			removed++
			continue
		}
		if now.Sub(payload.WrittenAt) >= d.staleHorizon {
			os.Remove(path)
			removed++
		}
	}
	return removed
}
