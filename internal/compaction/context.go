package compaction

import (
	"fmt"
	"sort"
	"sync"
)

// Levels is the number of leveled rowset buckets a Context tracks: level 0
// (cumulative, frequent/small) and level 1 (base, rare/large), plus one
// terminal level holding rowsets that have already been folded into base
// and are not scored for further compaction (spec.md §3: L = 3).
const Levels = 3

// Context is the per-tablet leveled view of rowsets plus per-level score
// (spec.md §3, §4.F). It is maintained by the tablet, not the scheduler:
// on every rowset-set change the tablet recomputes levels/scores here and
// then calls the registry's UpdateCandidateAsync. The control plane treats
// the context as opaque except for Score() and SelectedLevel().
type Context struct {
	mu sync.Mutex

	levels [Levels]*rowsetSet
	scores [Levels - 1]float64

	selectedLevel int

	// levelSizeThreshold[l] is the cumulative byte size at which level l
	// is considered "needs compaction"; levelCountThreshold[l] is the
	// rowset-count equivalent. Either crossing drives the level's score
	// above 1.0.
	levelSizeThreshold  [Levels - 1]int64
	levelCountThreshold [Levels - 1]int
}

// NewContext creates an empty Context with the given per-level thresholds.
func NewContext(sizeThresholds [Levels - 1]int64, countThresholds [Levels - 1]int) *Context {
	c := &Context{
		levelSizeThreshold:  sizeThresholds,
		levelCountThreshold: countThresholds,
	}
	for i := range c.levels {
		c.levels[i] = newRowsetSet()
	}
	return c
}

// AddRowset inserts r into level, rejecting overlap with any rowset
// already present at that level. The strict non-overlap comparator
// (spec.md §4.F/§9) means a rejected insert here signals a corrupted
// version chain upstream, not a transient condition.
func (c *Context) AddRowset(level int, r Rowset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if level < 0 || level >= Levels {
		return fmt.Errorf("%w: level %d out of range", ErrInvariantViolated, level)
	}
	if err := c.levels[level].insert(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolated, err)
	}
	return nil
}

// RemoveRowset removes r from level. It is a no-op if r is not present.
func (c *Context) RemoveRowset(level int, r Rowset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level < 0 || level >= Levels {
		return
	}
	c.levels[level].remove(r)
}

// RowsetsAtLevel returns a snapshot of the rowsets at level, in
// start-version order.
func (c *Context) RowsetsAtLevel(level int) []Rowset {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level < 0 || level >= Levels {
		return nil
	}
	return c.levels[level].snapshot()
}

// Recompute recalculates the per-level score vector and the selected
// level, returning the new overall score (the max of the per-level
// scores) and the selected level. This is the Go-idiomatic descendant of
// the teacher LSM tree's shouldCompact: a level's score grows past 1.0
// once its accumulated size or rowset count crosses its threshold.
func (c *Context) Recompute() (score float64, level int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	best := -1.0
	bestLevel := 0
	for l := 0; l < Levels-1; l++ {
		rowsets := c.levels[l].snapshot()
		var totalSize int64
		for _, r := range rowsets {
			totalSize += r.DataDiskSize()
		}

		var sizeScore, countScore float64
		if c.levelSizeThreshold[l] > 0 {
			sizeScore = float64(totalSize) / float64(c.levelSizeThreshold[l])
		}
		if c.levelCountThreshold[l] > 0 {
			countScore = float64(len(rowsets)) / float64(c.levelCountThreshold[l])
		}

		s := sizeScore
		if countScore > s {
			s = countScore
		}
		if s < 0 {
			s = 0
		}
		c.scores[l] = s

		if s > best {
			best = s
			bestLevel = l
		}
	}

	if best < 0 {
		best = 0
	}
	c.selectedLevel = bestLevel
	return best, bestLevel
}

// Score returns the max of the per-level scores as of the last Recompute.
func (c *Context) Score() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	best := 0.0
	for _, s := range c.scores {
		if s > best {
			best = s
		}
	}
	return best
}

// SelectedLevel returns the level chosen for the next compaction as of the
// last Recompute.
func (c *Context) SelectedLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLevel
}

// rowsetSet holds a level's rowsets ordered by start_version, enforcing
// the strict non-overlap comparator: a < b iff a.end_version < b.start_version.
type rowsetSet struct {
	items []Rowset
}

func newRowsetSet() *rowsetSet { return &rowsetSet{} }

func (s *rowsetSet) insert(r Rowset) error {
	idx := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].StartVersion() >= r.StartVersion()
	})
	if idx > 0 && !(s.items[idx-1].EndVersion() < r.StartVersion()) {
		return fmt.Errorf("rowset [%d,%d] overlaps [%d,%d]",
			r.StartVersion(), r.EndVersion(), s.items[idx-1].StartVersion(), s.items[idx-1].EndVersion())
	}
	if idx < len(s.items) && !(r.EndVersion() < s.items[idx].StartVersion()) {
		return fmt.Errorf("rowset [%d,%d] overlaps [%d,%d]",
			r.StartVersion(), r.EndVersion(), s.items[idx].StartVersion(), s.items[idx].EndVersion())
	}

	s.items = append(s.items, nil)
	copy(s.items[idx+1:], s.items[idx:])
	s.items[idx] = r
	return nil
}

func (s *rowsetSet) remove(r Rowset) {
	for i, item := range s.items {
		if item == r {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

func (s *rowsetSet) snapshot() []Rowset {
	out := make([]Rowset, len(s.items))
	copy(out, s.items)
	return out
}
