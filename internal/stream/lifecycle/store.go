package lifecycle

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
)

// ErrTransition is returned for a state change the lifecycle does not allow.
var ErrTransition = errors.New("invalid cell state transition")

// Record is the ownership entry of a loaded cell. It owns its handles until
// the cell is unloaded.
type Record struct {
	Coord     cell.Coord
	Tier      cell.Tier
	Container uuid.UUID
	Handles   []*pool.Instance
}

type slot struct {
	state cell.State
	tier  cell.Tier
	rec   *Record
}

// Store maps every coordinate to exactly one state. Coordinates never seen, or
// unloaded, are Unloaded and occupy no memory.
// Accessed only from the tick goroutine.
type Store struct {
	slots  map[cell.Coord]*slot
	counts [len(cell.Tiers)][4]int
}

func NewStore() *Store {
	return &Store{slots: map[cell.Coord]*slot{}}
}

func (s *Store) State(c cell.Coord) cell.State {
	if sl, ok := s.slots[c]; ok {
		return sl.state
	}
	return cell.Unloaded
}

// Tier returns the tier a tracked cell was admitted under.
func (s *Store) Tier(c cell.Coord) (cell.Tier, bool) {
	sl, ok := s.slots[c]
	if !ok {
		return 0, false
	}
	return sl.tier, true
}

func (s *Store) Record(c cell.Coord) (*Record, bool) {
	sl, ok := s.slots[c]
	if !ok || sl.rec == nil {
		return nil, false
	}
	return sl.rec, true
}

func (s *Store) transition(c cell.Coord, from, to cell.State) (*slot, error) {
	cur := s.State(c)
	if cur != from {
		return nil, fmt.Errorf("%w: %v %v->%v (is %v)", ErrTransition, c, from, to, cur)
	}
	sl := s.slots[c]
	s.counts[sl.tier][from]--
	sl.state = to
	s.counts[sl.tier][to]++
	return sl, nil
}

// MarkQueued moves an Unloaded cell to Queued under tier t.
func (s *Store) MarkQueued(c cell.Coord, t cell.Tier) error {
	if cur := s.State(c); cur != cell.Unloaded {
		return fmt.Errorf("%w: %v UNLOADED->QUEUED (is %v)", ErrTransition, c, cur)
	}
	s.slots[c] = &slot{state: cell.Queued, tier: t}
	s.counts[t][cell.Queued]++
	return nil
}

// MarkLoading moves a Queued cell to Loading.
func (s *Store) MarkLoading(c cell.Coord) error {
	_, err := s.transition(c, cell.Queued, cell.Loading)
	return err
}

// MarkLoaded moves a Loading cell to Loaded and registers the handles it owns.
func (s *Store) MarkLoaded(c cell.Coord, handles []*pool.Instance) (*Record, error) {
	sl, err := s.transition(c, cell.Loading, cell.Loaded)
	if err != nil {
		return nil, err
	}
	sl.rec = &Record{
		Coord:     c,
		Tier:      sl.tier,
		Container: uuid.New(),
		Handles:   handles,
	}
	return sl.rec, nil
}

// Cancel drops a Queued cell back to Unloaded.
func (s *Store) Cancel(c cell.Coord) error {
	if _, err := s.transition(c, cell.Queued, cell.Unloaded); err != nil {
		return err
	}
	delete(s.slots, c)
	return nil
}

// Abandon drops a Loading cell whose result will be discarded.
func (s *Store) Abandon(c cell.Coord) error {
	if _, err := s.transition(c, cell.Loading, cell.Unloaded); err != nil {
		return err
	}
	delete(s.slots, c)
	return nil
}

// Unload removes a Loaded cell and hands its record back to the caller, who
// becomes responsible for releasing the handles. It reports false, and does
// nothing, when the cell is not Loaded.
func (s *Store) Unload(c cell.Coord) (*Record, bool) {
	sl, err := s.transition(c, cell.Loaded, cell.Unloaded)
	if err != nil {
		return nil, false
	}
	rec := sl.rec
	delete(s.slots, c)
	return rec, true
}

// Count is the number of cells of tier t in state st. Unloaded is always 0.
func (s *Store) Count(t cell.Tier, st cell.State) int {
	if st == cell.Unloaded {
		return 0
	}
	return s.counts[t][st]
}

// Resident is the number of Queued, Loading and Loaded cells of tier t.
func (s *Store) Resident(t cell.Tier) int {
	return s.counts[t][cell.Queued] + s.counts[t][cell.Loading] + s.counts[t][cell.Loaded]
}

// Len is the number of tracked (not Unloaded) cells.
func (s *Store) Len() int { return len(s.slots) }

// Coords lists cells in state st ordered by coordinate.
func (s *Store) Coords(st cell.State) []cell.Coord {
	var out []cell.Coord
	for c, sl := range s.slots {
		if sl.state == st {
			out = append(out, c)
		}
	}
	cell.SortCoords(out)
	return out
}

// Each visits every tracked cell in unspecified order.
func (s *Store) Each(fn func(c cell.Coord, st cell.State, t cell.Tier)) {
	for c, sl := range s.slots {
		fn(c, sl.state, sl.tier)
	}
}
