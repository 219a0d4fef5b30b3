package rpc

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateID is returned when a request with the same ID is already
	// recorded.
	ErrDuplicateID = errors.New("request id already recorded")

	// ErrUnknownID is returned when resolving a response for an unrecorded
	// request.
	ErrUnknownID = errors.New("no request recorded for id")
)

// Record is a request received or sent on a topic, plus its response once
// one is known.
type Record struct {
	ID       ID
	Topic    string
	Request  Request
	Response *Response
}

// MemoryHistory is an in-memory request-history store. It is safe for
// concurrent use.
type MemoryHistory struct {
	mu      sync.RWMutex
	records map[ID]Record
}

// NewMemoryHistory returns an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[ID]Record)}
}

// Set records req as received on topic.
func (h *MemoryHistory) Set(topic string, req Request) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.records[req.ID]; ok {
		return ErrDuplicateID
	}
	h.records[req.ID] = Record{ID: req.ID, Topic: topic, Request: req}
	return nil
}

// Get returns the record for id.
func (h *MemoryHistory) Get(id ID) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.records[id]
	return rec, ok
}

// Resolve attaches resp to the record with the same ID.
func (h *MemoryHistory) Resolve(resp Response) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.records[resp.ID]
	if !ok {
		return ErrUnknownID
	}
	rec.Response = &resp
	h.records[resp.ID] = rec
	return nil
}

// Delete removes the record for id.
func (h *MemoryHistory) Delete(id ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, id)
}

// DeleteTopic removes every record received on topic.
func (h *MemoryHistory) DeleteTopic(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, rec := range h.records {
		if rec.Topic == topic {
			delete(h.records, id)
		}
	}
}

// Pending returns the records that have no response yet.
func (h *MemoryHistory) Pending() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Record
	for _, rec := range h.records {
		if rec.Response == nil {
			out = append(out, rec)
		}
	}
	return out
}
