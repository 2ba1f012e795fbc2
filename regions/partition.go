package regions

// ContextFlags marks a subread's adjacency to adapters.  Values match the
// BAM cx tag encoding consumed downstream.
type ContextFlags uint8

const (
	// NoLocalContext means neither end of the subread abuts an adapter.
	NoLocalContext ContextFlags = 0
	// AdapterBefore is set when an adapter precedes the subread.
	AdapterBefore ContextFlags = 1
	// AdapterAfter is set when an adapter follows the subread.
	AdapterAfter ContextFlags = 2
)

// SubreadInterval is one adapter-delimited segment of a hole's HQ region.
type SubreadInterval struct {
	Start int
	End   int
	Flags ContextFlags
}

// SubreadIntervals partitions the hole's HQ interval at adapter boundaries
// and returns the resulting subread intervals in ascending start order.
//
// The walk maintains a cursor starting at hqStart.  Adapters ending before
// hqStart are skipped; the walk stops at the first adapter starting past
// hqEnd.  A segment between two adapters carries both flags, the segment
// before the first adapter carries AdapterAfter, the segment after the last
// carries AdapterBefore, and a lone unflanked segment carries no flags.
// Zero-length segments are never emitted.  A hole with no HQ row, or an
// empty HQ interval, yields nil; this is a normal outcome, not an error.
//
// The adapter list is trusted to be pre-sorted (Table.Load validates this);
// it is never re-sorted here, so the output is deterministic for tied
// starts.
func SubreadIntervals(hole uint32, t *Table) []SubreadInterval {
	hq, ok := t.HQRegion(hole)
	if !ok || hq.End <= hq.Start {
		return nil
	}

	var (
		ivs           []SubreadInterval
		lastAdapter   Interval
		prevIsAdapter bool
	)
	regStart := hq.Start
	for _, adapter := range t.Adapters(hole) {
		if adapter.End < hq.Start {
			continue
		}
		if adapter.Start > hq.End {
			break
		}
		if prevIsAdapter {
			ivs = appendInterval(ivs, lastAdapter.End, adapter.Start, AdapterBefore|AdapterAfter)
		} else if regStart < adapter.Start {
			ivs = appendInterval(ivs, regStart, adapter.Start, AdapterAfter)
		}
		lastAdapter = adapter
		prevIsAdapter = true
		regStart = adapter.End
	}
	if prevIsAdapter {
		ivs = appendInterval(ivs, lastAdapter.End, hq.End, AdapterBefore)
	} else if regStart < hq.End {
		ivs = appendInterval(ivs, regStart, hq.End, NoLocalContext)
	}
	return ivs
}

func appendInterval(ivs []SubreadInterval, start, end int, flags ContextFlags) []SubreadInterval {
	if end <= start {
		return ivs
	}
	return append(ivs, SubreadInterval{Start: start, End: end, Flags: flags})
}
