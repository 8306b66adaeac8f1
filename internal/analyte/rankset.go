package analyte

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownAnalyte = errors.New("unknown analyte")

// Mode selects the reordering policy of a RankSet.
type Mode string

const (
	// ModeStrict keeps active ranks an exact permutation of 1..k.
	ModeStrict Mode = "strict"
	// ModeFree stores whatever rank the caller sets; duplicates and
	// non-positive values are left for validation to flag.
	ModeFree Mode = "free"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStrict, ModeFree:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid ranking mode %q", s)
	}
}

type slot struct {
	active bool
	rank   int
	order  int // position in the catalog; tie-breaker
}

// RankSet maintains priority ranks over the active subset of a fixed
// collection of analytes, addressed by name.
type RankSet struct {
	mode  Mode
	names []string
	slots map[string]*slot
}

// NewRankSet creates a set where every name is active and ranked by its
// position in names (1-based).
func NewRankSet(names []string, mode Mode) *RankSet {
	rs := &RankSet{
		mode:  mode,
		names: make([]string, 0, len(names)),
		slots: make(map[string]*slot, len(names)),
	}
	for _, n := range names {
		if _, dup := rs.slots[n]; dup {
			continue
		}
		rs.slots[n] = &slot{active: true, rank: len(rs.names) + 1, order: len(rs.names)}
		rs.names = append(rs.names, n)
	}
	return rs
}

func (rs *RankSet) Mode() Mode { return rs.mode }

// Names returns analyte names in catalog order.
func (rs *RankSet) Names() []string {
	out := make([]string, len(rs.names))
	copy(out, rs.names)
	return out
}

func (rs *RankSet) ActiveCount() int {
	n := 0
	for _, s := range rs.slots {
		if s.active {
			n++
		}
	}
	return n
}

// Get returns the activity flag and rank of name.
func (rs *RankSet) Get(name string) (active bool, rank int, err error) {
	s, ok := rs.slots[name]
	if !ok {
		return false, 0, fmt.Errorf("%w: %s", ErrUnknownAnalyte, name)
	}
	return s.active, s.rank, nil
}

// Activate marks name active with the next trailing rank. Already active
// items are left untouched.
func (rs *RankSet) Activate(name string) error {
	s, ok := rs.slots[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAnalyte, name)
	}
	if s.active {
		return nil
	}
	s.rank = rs.ActiveCount() + 1
	s.active = true
	rs.assert()
	return nil
}

// Deactivate marks name inactive. In strict mode the remaining active items
// are re-compacted to 1..k-1, preserving their order by prior rank.
func (rs *RankSet) Deactivate(name string) error {
	s, ok := rs.slots[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAnalyte, name)
	}
	if !s.active {
		return nil
	}
	s.active = false
	if rs.mode == ModeStrict {
		rs.renumber()
	}
	rs.assert()
	return nil
}

// SetRank moves name to newRank. In free mode only name changes. In strict
// mode the active items between the old and new position rotate by one
// toward the vacated slot, and newRank is clamped into 1..k.
func (rs *RankSet) SetRank(name string, newRank int) error {
	s, ok := rs.slots[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAnalyte, name)
	}
	if rs.mode == ModeFree || !s.active {
		s.rank = newRank
		return nil
	}

	k := rs.ActiveCount()
	if newRank < 1 {
		newRank = 1
	}
	if newRank > k {
		newRank = k
	}
	oldRank := s.rank
	if newRank == oldRank {
		return nil
	}

	for n, other := range rs.slots {
		if n == name || !other.active {
			continue
		}
		if newRank > oldRank {
			// moving down: (oldRank, newRank] shifts up one place
			if other.rank > oldRank && other.rank <= newRank {
				other.rank--
			}
		} else {
			// moving up: [newRank, oldRank) shifts down one place
			if other.rank >= newRank && other.rank < oldRank {
				other.rank++
			}
		}
	}
	s.rank = newRank
	rs.assert()
	return nil
}

// SetMode switches the reordering policy. Entering strict mode renumbers the
// active items to 1..k by their existing rank order.
func (rs *RankSet) SetMode(mode Mode) {
	if mode == rs.mode {
		return
	}
	rs.mode = mode
	if mode == ModeStrict {
		rs.renumber()
		rs.assert()
	}
}

// Items returns the rank state of every analyte in catalog order.
func (rs *RankSet) Items() []Item {
	out := make([]Item, 0, len(rs.names))
	for _, n := range rs.names {
		s := rs.slots[n]
		out = append(out, Item{Name: n, IsActive: s.active, Rank: s.rank})
	}
	return out
}

// Active returns the active analyte names ordered by rank, ties broken by
// catalog order.
func (rs *RankSet) Active() []string {
	var active []string
	for _, n := range rs.names {
		if rs.slots[n].active {
			active = append(active, n)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return rankLess(rs.slots[active[i]], rs.slots[active[j]])
	})
	return active
}

// rankLess orders positive ranks ascending ahead of unranked (<= 0) entries.
func rankLess(a, b *slot) bool {
	ar, br := a.rank > 0, b.rank > 0
	switch {
	case ar && !br:
		return true
	case !ar && br:
		return false
	case a.rank != b.rank && ar:
		return a.rank < b.rank
	default:
		return a.order < b.order
	}
}

func (rs *RankSet) renumber() {
	for i, n := range rs.Active() {
		rs.slots[n].rank = i + 1
	}
}

// assert panics if strict mode ranks are not a permutation of 1..k. Reaching
// it means a shift computation is wrong, which would corrupt every consumer.
func (rs *RankSet) assert() {
	if rs.mode != ModeStrict {
		return
	}
	if err := CheckPermutation(rs.activeRanks()); err != nil {
		panic(fmt.Sprintf("analyte: rank invariant violated: %v", err))
	}
}

func (rs *RankSet) activeRanks() []int {
	var ranks []int
	for _, s := range rs.slots {
		if s.active {
			ranks = append(ranks, s.rank)
		}
	}
	return ranks
}

// CheckPermutation reports whether ranks is exactly {1..len(ranks)}.
func CheckPermutation(ranks []int) error {
	seen := make([]bool, len(ranks)+1)
	for _, r := range ranks {
		if r < 1 || r > len(ranks) {
			return fmt.Errorf("rank %d outside 1..%d", r, len(ranks))
		}
		if seen[r] {
			return fmt.Errorf("duplicate rank %d", r)
		}
		seen[r] = true
	}
	return nil
}
