package gateway

import (
	"strconv"
	"time"
)

// Broadcaster builds frame envelopes and sends them to subscribed clients.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast sends an encoded frame of a surface to every subscribed client.
// The envelope is hand-built around the already encoded frame:
//
//	{"type":"frame","surface":"...","data":{...},"ts":"...","seq":N,"surface_seq":M}
//
// surface_seq increases by one per frame so clients can detect gaps and
// backfill them from the surface's frame history.
func (b *Broadcaster) Broadcast(surface string, data []byte, frameTS time.Time) {
	now := time.Now().UTC()

	// Seq assignment and history push happen together so concurrent refreshes
	// of one surface land in the history in seq order.
	b.hub.mu.Lock()
	b.hub.surfaceSeqs[surface]++
	surfaceSeq := b.hub.surfaceSeqs[surface]
	b.hub.seq++
	buf := buildEnvelope(surface, data, now, b.hub.seq, surfaceSeq)
	fh, exists := b.hub.histories[surface]
	if !exists {
		fh = NewFrameHistory(b.hub.historyCap)
		b.hub.histories[surface] = fh
	}
	fh.Push(surfaceSeq, buf)
	b.hub.latest[surface] = latestEntry{Envelope: buf, TS: now, Seq: surfaceSeq}
	b.hub.mu.Unlock()

	if b.hub.Lag != nil && !frameTS.IsZero() {
		b.hub.Lag.Observe(surface, now.Sub(frameTS))
	}

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		if !client.subscribed(surface) {
			continue
		}
		dropped := false
		select {
		case client.send <- buf:
		default:
			dropped = true
		}
		if b.hub.OnSend != nil {
			b.hub.OnSend(dropped)
		}
	}
}

func buildEnvelope(surface string, data []byte, now time.Time, seq, surfaceSeq int64) []byte {
	buf := make([]byte, 0, len(surface)+len(data)+160)
	buf = append(buf, `{"type":"frame","surface":`...)
	buf = strconv.AppendQuote(buf, surface)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"surface_seq":`...)
	buf = strconv.AppendInt(buf, surfaceSeq, 10)
	buf = append(buf, '}')
	return buf
}
