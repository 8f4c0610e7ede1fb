package server

import (
	"sync"
	"time"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/proto"
)

// StatsSnapshot is a copy of the collected counters.
type StatsSnapshot struct {
	Started  time.Time
	Uptime   time.Duration
	Requests uint64
	Errors   uint64
	BytesIn  uint64
	BytesOut uint64
	AvgMs    uint64
	ByOp     map[string]uint64
	// Recent holds the request count of each of the last 60 minutes,
	// oldest first.
	Recent []uint64
}

// statsHub keeps request counters for the tool's ":stats".
type statsHub struct {
	mu sync.Mutex

	started time.Time

	totalReq   uint64
	totalErr   uint64
	bytesIn    uint64
	bytesOut   uint64
	totalDurMs uint64

	byOp [256]uint64

	// per-minute ring
	curMin int64
	idx    int
	req    [60]uint64
}

func newStatsHub() *statsHub {
	now := time.Now()
	return &statsHub{started: now, curMin: now.Unix() / 60}
}

func (h *statsHub) advanceLocked(targetMin int64) {
	for h.curMin < targetMin {
		h.curMin++
		h.idx = (h.idx + 1) % len(h.req)
		h.req[h.idx] = 0
		if targetMin-h.curMin >= int64(len(h.req)) {
			h.curMin = targetMin - int64(len(h.req))
		}
	}
}

func (h *statsHub) add(op byte, code byte, reqBytes, respBytes int, durMs int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.advanceLocked(time.Now().Unix() / 60)

	h.totalReq++
	h.byOp[op]++
	h.req[h.idx]++
	if cbmerr.Code(code).Failed() {
		h.totalErr++
	}
	h.bytesIn += uint64(reqBytes)
	h.bytesOut += uint64(respBytes)
	if durMs > 0 {
		h.totalDurMs += uint64(durMs)
	}
}

func (h *statsHub) snapshot() StatsSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.advanceLocked(now.Unix() / 60)

	by := make(map[string]uint64)
	for i, c := range h.byOp {
		if c != 0 {
			by[proto.Opcode(i).String()] = c
		}
	}

	recent := make([]uint64, 0, len(h.req))
	for i := 1; i <= len(h.req); i++ {
		recent = append(recent, h.req[(h.idx+i)%len(h.req)])
	}

	var avg uint64
	if h.totalReq > 0 {
		avg = h.totalDurMs / h.totalReq
	}

	return StatsSnapshot{
		Started:  h.started,
		Uptime:   now.Sub(h.started),
		Requests: h.totalReq,
		Errors:   h.totalErr,
		BytesIn:  h.bytesIn,
		BytesOut: h.bytesOut,
		AvgMs:    avg,
		ByOp:     by,
		Recent:   recent,
	}
}
