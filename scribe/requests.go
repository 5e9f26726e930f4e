package scribe

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InFlight describes a transcription request that has not yet answered.
type InFlight struct {
	ID      uuid.UUID `json:"id"`
	Mode    string    `json:"mode"`
	Addr    string    `json:"remote_addr"`
	Started time.Time `json:"started"`
}

type RequestList struct {
	requests map[uuid.UUID]*InFlight
	mu       sync.RWMutex
}

func NewRequestList() *RequestList {
	return &RequestList{
		requests: make(map[uuid.UUID]*InFlight),
	}
}

func (rl *RequestList) Add(req *InFlight) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.requests[req.ID] = req
}

func (rl *RequestList) Remove(id uuid.UUID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.requests, id)
}

func (rl *RequestList) Get(id uuid.UUID) (*InFlight, bool) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	req, ok := rl.requests[id]
	return req, ok
}

// List returns the in-flight requests, oldest first.
func (rl *RequestList) List() []InFlight {
	rl.mu.RLock()
	out := make([]InFlight, 0, len(rl.requests))
	for _, req := range rl.requests {
		out = append(out, *req)
	}
	rl.mu.RUnlock()

	slices.SortFunc(out, func(a, b InFlight) int {
		return a.Started.Compare(b.Started)
	})
	return out
}

// track registers a new request and returns the function that removes it.
func (rl *RequestList) track(mode, addr string) (uuid.UUID, func()) {
	req := &InFlight{
		ID:      uuid.New(),
		Mode:    mode,
		Addr:    addr,
		Started: time.Now(),
	}
	rl.Add(req)
	return req.ID, func() { rl.Remove(req.ID) }
}
