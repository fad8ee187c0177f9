package gateway

import "sync"

// FrameHistory keeps the envelopes of the most recent frames of one surface,
// indexed by surface_seq, so a client that fell behind can catch up.
// Seqs are pushed consecutively, which makes lookups index arithmetic.
type FrameHistory struct {
	mu   sync.RWMutex
	envs [][]byte
	head int   // slot of the oldest envelope
	n    int   // envelopes held
	next int64 // seq of the next push; oldest held is next-n
}

// NewFrameHistory creates a history holding up to capacity frames.
func NewFrameHistory(capacity int) *FrameHistory {
	if capacity <= 0 {
		capacity = 500
	}
	return &FrameHistory{envs: make([][]byte, capacity), next: 1}
}

// Push records the envelope of frame seq. A seq that does not follow the
// previous one starts the history over.
func (h *FrameHistory) Push(seq int64, env []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if seq != h.next {
		h.head, h.n = 0, 0
	}
	slot := (h.head + h.n) % len(h.envs)
	h.envs[slot] = env
	if h.n < len(h.envs) {
		h.n++
	} else {
		h.head = (h.head + 1) % len(h.envs)
	}
	h.next = seq + 1
}

// Bounds returns the oldest and newest seq held.
func (h *FrameHistory) Bounds() (oldest, newest int64, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return 0, 0, false
	}
	return h.next - int64(h.n), h.next - 1, true
}

// Len returns the number of frames held.
func (h *FrameHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Between returns the envelopes with seq in [from, to], oldest first.
func (h *FrameHistory) Between(from, to int64) [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.between(from, to)
}

// Since returns the envelopes after seq. missed counts the frames after seq
// that have already been evicted and can no longer be resent.
func (h *FrameHistory) Since(seq int64) (envs [][]byte, missed int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 || seq >= h.next-1 {
		return nil, 0
	}
	if oldest := h.next - int64(h.n); seq+1 < oldest {
		missed = oldest - (seq + 1)
	}
	return h.between(seq+1, h.next-1), missed
}

func (h *FrameHistory) between(from, to int64) [][]byte {
	oldest := h.next - int64(h.n)
	if from < oldest {
		from = oldest
	}
	if to > h.next-1 {
		to = h.next - 1
	}
	if h.n == 0 || from > to {
		return nil
	}
	out := make([][]byte, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		out = append(out, h.envs[(h.head+int(seq-oldest))%len(h.envs)])
	}
	return out
}
