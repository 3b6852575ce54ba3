package mcap

// This file backs the indexed reader's time-ordered merge (spec component
// H) with a single container/heap over two kinds of entries: an unopened
// chunk, ordered by that chunk's own start (or end, reading in reverse)
// time, and a located message inside an already-opened chunk, ordered by
// its log time. Popping a chunk entry loads that chunk and replaces it with
// its message entries; popping a message entry yields one message. This is
// a flattened version of the two-level heap-of-heaps sometimes used for the
// same merge: one heap mixing both entry kinds reaches the same total
// ordering with less bookkeeping, since an unopened chunk's own time range
// is exactly the key its eventual messages would sort under anyway.

// chunkSlot holds one decompressed chunk's record bytes while any of its
// message entries remain unread. unread reaches zero and the slot is
// dropped once every message pulled from this chunk has been yielded.
type chunkSlot struct {
	chunkIndex *ChunkIndex
	data       []byte
	unread     int
}

// rangeEntry is one item in a mergeHeap. chunkIndex is non-nil for an
// unopened chunk; otherwise the entry names a single message already
// located within slot's decompressed data.
type rangeEntry struct {
	chunkIndex *ChunkIndex

	slot      *chunkSlot
	channelID uint16
	logTime   uint64
	offset    uint64
	seq       int // position within its channel's message index, for tie-breaking
}

func (e *rangeEntry) sortTime(reverse bool) uint64 {
	if e.chunkIndex != nil {
		if reverse {
			return e.chunkIndex.MessageEndTime
		}
		return e.chunkIndex.MessageStartTime
	}
	return e.logTime
}

func (e *rangeEntry) chunkStartOffset() uint64 {
	if e.chunkIndex != nil {
		return e.chunkIndex.ChunkStartOffset
	}
	return e.slot.chunkIndex.ChunkStartOffset
}

// mergeHeap implements container/heap.Interface over a mix of rangeEntry
// values, ordered ascending by sortTime (descending when reverse), with
// (chunk_start_offset, channel_id, in-channel index) as tie-break so that
// the merge is deterministic across messages sharing a timestamp.
type mergeHeap struct {
	items   []*rangeEntry
	reverse bool
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	at, bt := a.sortTime(h.reverse), b.sortTime(h.reverse)
	if at != bt {
		if h.reverse {
			return at > bt
		}
		return at < bt
	}
	ao, bo := a.chunkStartOffset(), b.chunkStartOffset()
	if ao != bo {
		return ao < bo
	}
	if (a.chunkIndex == nil) != (b.chunkIndex == nil) {
		return a.chunkIndex != nil // unopened chunk sorts before its own messages
	}
	if a.channelID != b.channelID {
		return a.channelID < b.channelID
	}
	return a.seq < b.seq
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x any) { h.items = append(h.items, x.(*rangeEntry)) }

func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}
