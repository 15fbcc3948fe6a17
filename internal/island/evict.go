package island

import (
	"fmt"
	"math"
	"strings"
)

// LimitMode selects which island (if any) is evicted when the registry is full.
type LimitMode int

const (
	// LimitFirstCome never evicts; newcomers are rejected at capacity.
	LimitFirstCome LimitMode = iota
	// LimitMostRecent evicts the oldest island.
	LimitMostRecent
	// LimitPriority evicts the worst-ranked island if the newcomer ranks better.
	LimitPriority
)

const DefaultLimitMode = LimitMostRecent

func (m LimitMode) String() string {
	switch m {
	case LimitFirstCome:
		return "FIRST_COME"
	case LimitMostRecent:
		return "MOST_RECENT"
	case LimitPriority:
		return "PRIORITY"
	default:
		return fmt.Sprintf("LimitMode(%d)", int(m))
	}
}

// ParseLimitMode is case-insensitive and accepts '-' for '_'.
func ParseLimitMode(s string) (LimitMode, bool) {
	switch strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_") {
	case "FIRST_COME":
		return LimitFirstCome, true
	case "MOST_RECENT":
		return LimitMostRecent, true
	case "PRIORITY":
		return LimitPriority, true
	default:
		return DefaultLimitMode, false
	}
}

const unranked = math.MaxInt

// rank returns the package's position in order, or unranked.
func rank(order []string, pkg string) int {
	for i, p := range order {
		if p == pkg {
			return i
		}
	}
	return unranked
}

// selectVictim picks the island to evict for a newcomer from pkg.
// It returns ok=false when the newcomer must be rejected instead.
func selectVictim(mode LimitMode, entries map[string]*ActiveIsland, pkg string, order []string) (string, bool) {
	if len(entries) == 0 {
		return "", false
	}
	switch mode {
	case LimitMostRecent:
		var (
			victim string
			oldest *ActiveIsland
		)
		for k, e := range entries {
			if oldest == nil || e.PostTime.Before(oldest.PostTime) || (e.PostTime.Equal(oldest.PostTime) && k < victim) {
				victim, oldest = k, e
			}
		}
		return victim, true

	case LimitPriority:
		var (
			victim    string
			worst     *ActiveIsland
			worstRank = -1
		)
		for k, e := range entries {
			r := rank(order, e.Package)
			switch {
			case r > worstRank:
			case r == worstRank && e.PostTime.Before(worst.PostTime):
			default:
				continue
			}
			victim, worst, worstRank = k, e, r
		}
		if rank(order, pkg) < worstRank {
			return victim, true
		}
		return "", false

	default:
		return "", false
	}
}
