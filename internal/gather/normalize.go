package gather

import (
	"log/slog"
	"time"

	"gapfill/internal/domain"
)

// Key is a timestamp truncated to the minute, as Unix seconds.
type Key int64

// KeyOf returns the minute key of t.
func KeyOf(t time.Time) Key {
	return Key(t.Truncate(time.Minute).Unix())
}

// Add returns the key n minutes away.
func (k Key) Add(minutes int) Key { return k + Key(minutes*60) }

// Time returns the key as a UTC time.
func (k Key) Time() time.Time { return time.Unix(int64(k), 0).UTC() }

// KeyMap maps minute keys to the fetched observation.
type KeyMap map[Key]domain.Observation

// Collision records a fetched record dropped because its key was taken.
type Collision struct {
	Key     Key
	Kept    time.Time
	Dropped time.Time
}

// Normalize builds the key map for one fetch batch. When two records share a
// minute key the first one wins; every collision is logged at warn and
// returned.
func Normalize(records []domain.Record, log *slog.Logger) (KeyMap, []Collision) {
	if log == nil {
		log = slog.Default()
	}
	keys := make(KeyMap, len(records))
	first := make(map[Key]time.Time, len(records))
	var collisions []Collision
	for _, r := range records {
		k := KeyOf(r.Timestamp)
		if kept, dup := first[k]; dup {
			c := Collision{Key: k, Kept: kept, Dropped: r.Timestamp}
			collisions = append(collisions, c)
			log.Warn("key collision, keeping first",
				"key", k.Time().Format(time.RFC3339),
				"kept", kept.Format(time.RFC3339Nano),
				"dropped", r.Timestamp.Format(time.RFC3339Nano))
			continue
		}
		first[k] = r.Timestamp
		keys[k] = r.Value
	}
	return keys, collisions
}
