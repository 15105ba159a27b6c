package gather

import (
	"time"

	"gapfill/internal/domain"
)

// DefaultWindow is the resolve window in minutes.
const DefaultWindow = 4

// Offsets returns the lookup order for a window: 0, +1, -1, ..., +window,
// -window.
func Offsets(window int) []int {
	if window < 0 {
		window = 0
	}
	out := make([]int, 0, 2*window+1)
	out = append(out, 0)
	for i := 1; i <= window; i++ {
		out = append(out, i, -i)
	}
	return out
}

// Resolve returns the observation nearest to target within window minutes.
// Equal distances prefer the later minute.
func Resolve(target time.Time, keys KeyMap, window int) (domain.Observation, bool) {
	base := KeyOf(target)
	for _, off := range Offsets(window) {
		if v, ok := keys[base.Add(off)]; ok {
			return v, true
		}
	}
	return domain.Observation{}, false
}
