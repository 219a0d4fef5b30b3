package rpc

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewID(t *testing.T) {
	before := time.Now().UnixMilli()
	id := NewID()
	after := time.Now().UnixMilli()

	ms := int64(id) / 1000
	if ms < before || ms > after {
		t.Errorf("NewID millisecond part %d outside [%d, %d]", ms, before, after)
	}
}

func TestRequest_DecodeParams(t *testing.T) {
	type params struct {
		Account string `json:"account"`
	}

	req, err := NewRequest("wc_notifyPropose", params{Account: "eip155:1:0xabc"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.JSONRPC != Version || req.Method != "wc_notifyPropose" || req.ID == 0 {
		t.Errorf("request = %+v", req)
	}

	var got params
	if err := req.DecodeParams(&got); err != nil {
		t.Fatalf("DecodeParams: %v", err)
	}
	if got.Account != "eip155:1:0xabc" {
		t.Errorf("account = %q", got.Account)
	}

	if err := (Request{}).DecodeParams(&got); err == nil {
		t.Error("empty params decoded without error")
	}
}

func TestResponse_JSON(t *testing.T) {
	resp, err := NewResponse(42, map[string]string{"subscriptionAuth": "jwt"})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"id":42,"jsonrpc":"2.0","result":{"subscriptionAuth":"jwt"}}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}

	var out struct {
		SubscriptionAuth string `json:"subscriptionAuth"`
	}
	if err := resp.DecodeResult(&out); err != nil || out.SubscriptionAuth != "jwt" {
		t.Errorf("DecodeResult = %+v, %v", out, err)
	}
}

func TestErrorResponse(t *testing.T) {
	resp := NewErrorResponse(7, 5000, "user rejected")

	var out any
	err := resp.DecodeResult(&out)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != 5000 {
		t.Errorf("DecodeResult err = %v, want *Error with code 5000", err)
	}
}

func TestMemoryHistory(t *testing.T) {
	h := NewMemoryHistory()
	req := Request{ID: 1, JSONRPC: Version, Method: "m"}

	if err := h.Set("topic", req); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := h.Set("topic", req); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate Set err = %v", err)
	}

	rec, ok := h.Get(1)
	if !ok || rec.Topic != "topic" || rec.Request.Method != "m" {
		t.Fatalf("Get = %+v, %v", rec, ok)
	}
	if len(h.Pending()) != 1 {
		t.Errorf("Pending = %d, want 1", len(h.Pending()))
	}

	if err := h.Resolve(Response{ID: 1}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := h.Resolve(Response{ID: 2}); !errors.Is(err, ErrUnknownID) {
		t.Errorf("Resolve unknown err = %v", err)
	}
	rec, _ = h.Get(1)
	if rec.Response == nil {
		t.Error("response not attached")
	}
	if len(h.Pending()) != 0 {
		t.Error("resolved record still pending")
	}

	h.Delete(1)
	if _, ok := h.Get(1); ok {
		t.Error("record present after Delete")
	}
}

func TestMemoryHistory_DeleteTopic(t *testing.T) {
	h := NewMemoryHistory()
	_ = h.Set("a", Request{ID: 1})
	_ = h.Set("a", Request{ID: 2})
	_ = h.Set("b", Request{ID: 3})

	h.DeleteTopic("a")

	if _, ok := h.Get(1); ok {
		t.Error("record 1 survived DeleteTopic")
	}
	if _, ok := h.Get(3); !ok {
		t.Error("record on other topic removed")
	}
}

func TestMemoryHistory_Concurrent(t *testing.T) {
	h := NewMemoryHistory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.Set("t", Request{ID: ID(i)})
			h.Get(ID(i))
		}(i)
	}
	wg.Wait()

	if len(h.Pending()) != 50 {
		t.Errorf("Pending = %d, want 50", len(h.Pending()))
	}
}
