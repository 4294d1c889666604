package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"worldstream.ai/internal/persistence/statslog"
	"worldstream.ai/internal/stream/coordinator"
)

type tierPeak struct {
	Loaded  int
	Refused uint64
}

type summary struct {
	Ticks     int
	FirstTick uint64
	LastTick  uint64
	// Gaps counts places where consecutive reports skip ticks.
	Gaps int

	Exhausted    int
	MaxQueue     int
	Dropped      int
	Moves        int
	Discarded    uint64
	Violations   uint64
	FinalHitRate float64
	MaxElapsedNs int64

	Tiers map[string]tierPeak
}

func summarize(files []string, from, to uint64) (summary, error) {
	sum := summary{Tiers: map[string]tierPeak{}}
	for _, f := range files {
		err := statslog.ReadFile(f, func(line json.RawMessage) error {
			var rep coordinator.TickReport
			if err := json.Unmarshal(line, &rep); err != nil {
				return err
			}
			if rep.Tick < from || (to != 0 && rep.Tick > to) {
				return nil
			}
			sum.add(rep)
			return nil
		})
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (s *summary) add(rep coordinator.TickReport) {
	if s.Ticks == 0 {
		s.FirstTick = rep.Tick
	} else if rep.Tick != s.LastTick+1 {
		s.Gaps++
	}
	s.Ticks++
	s.LastTick = rep.Tick

	if rep.Process.Exhausted {
		s.Exhausted++
	}
	if e := int64(rep.Process.Elapsed); e > s.MaxElapsedNs {
		s.MaxElapsedNs = e
	}
	if rep.Diff.Moved {
		s.Moves++
	}
	s.Dropped += rep.Diff.Dropped

	snap := rep.Snapshot
	if snap.QueueLen > s.MaxQueue {
		s.MaxQueue = snap.QueueLen
	}
	s.Discarded = snap.Discarded
	s.Violations = snap.Violations
	s.FinalHitRate = snap.PoolHitRate
	for name, tc := range snap.Tiers {
		p := s.Tiers[name]
		if tc.Loaded > p.Loaded {
			p.Loaded = tc.Loaded
		}
		p.Refused = tc.Refused
		s.Tiers[name] = p
	}
}

func (s summary) print(w io.Writer) {
	fmt.Fprintf(w, "ticks=%d range=[%d,%d] gaps=%d moves=%d\n", s.Ticks, s.FirstTick, s.LastTick, s.Gaps, s.Moves)
	fmt.Fprintf(w, "budget_exhausted=%d max_process_ns=%d max_queue=%d dropped=%d discarded=%d\n",
		s.Exhausted, s.MaxElapsedNs, s.MaxQueue, s.Dropped, s.Discarded)
	fmt.Fprintf(w, "pool_hit_rate=%.3f invariant_violations=%d\n", s.FinalHitRate, s.Violations)

	names := make([]string, 0, len(s.Tiers))
	for n := range s.Tiers {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		p := s.Tiers[n]
		fmt.Fprintf(w, "tier %-7s max_loaded=%d refused=%d\n", n, p.Loaded, p.Refused)
	}
}
