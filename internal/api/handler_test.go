package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-cat/internal/api"
	"github.com/p-n-ai/pai-cat/internal/cat"
	"github.com/p-n-ai/pai-cat/internal/irt"
	"github.com/p-n-ai/pai-cat/internal/itembank"
)

func item(id string) itembank.RawItem {
	return itembank.RawItem{
		ID:             id,
		Text:           "question " + id,
		Options:        []string{"no", "yes"},
		CorrectIndices: []int{1},
		IRT:            map[string]any{"a": 1.0, "b": 0.0, "c": 0.2},
		TopicTags:      []string{"stats"},
	}
}

func newServer(t *testing.T, provider itembank.Provider) *httptest.Server {
	t.Helper()
	store := cat.NewMemoryStore()
	store.RegisterOwner(context.Background(), "session-1")
	engine := cat.NewEngine(cat.EngineConfig{
		Bank:    itembank.NewCache(provider),
		Store:   store,
		Stopper: irt.MaxItems{N: 2},
	})
	h, err := api.NewHandler(engine)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestAttemptLifecycle(t *testing.T) {
	srv := newServer(t, itembank.StaticProvider{item("q1"), item("q2"), item("q3")})

	resp, started := post(t, srv.URL+"/v1/attempts", `{"owner_reference":"session-1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201 (%v)", resp.StatusCode, started)
	}
	id, _ := started["attempt_id"].(string)
	first, _ := started["first_item"].(map[string]any)
	if id == "" || first["id"] != "q1" {
		t.Fatalf("start body = %v", started)
	}
	if _, leaked := first["correct_indices"]; leaked {
		t.Error("presented item must not reveal the correct options")
	}

	resp, step := post(t, srv.URL+"/v1/attempts/"+id+"/answers", `{"item_id":"q1","selected_option_index":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status = %d (%v)", resp.StatusCode, step)
	}
	if step["is_complete"] != false || step["next_item"] == nil {
		t.Fatalf("answer body = %v", step)
	}

	next := step["next_item"].(map[string]any)["id"].(string)
	_, final := post(t, srv.URL+"/v1/attempts/"+id+"/answers", `{"item_id":"`+next+`","selected_option_index":1}`)
	if final["is_complete"] != true || final["final_score_percent"] != 100.0 {
		t.Fatalf("final body = %v", final)
	}
	if v, ok := final["next_item"]; !ok || v != nil {
		t.Errorf("next_item = %v (present %v), want null", v, ok)
	}
	if weak, ok := final["identified_weak_topics"].([]any); !ok || len(weak) != 0 {
		t.Errorf("identified_weak_topics = %v, want []", final["identified_weak_topics"])
	}

	resp, again := post(t, srv.URL+"/v1/attempts/"+id+"/answers", `{"item_id":"q3","selected_option_index":1}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("answer after completion status = %d, want 409 (%v)", resp.StatusCode, again)
	}

	get, err := http.Get(srv.URL + "/v1/attempts/" + id)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer get.Body.Close()
	var stored map[string]any
	json.NewDecoder(get.Body).Decode(&stored)
	if stored["state"] != string(cat.StateComplete) {
		t.Errorf("state = %v, want complete", stored["state"])
	}
}

func TestErrorStatuses(t *testing.T) {
	srv := newServer(t, itembank.StaticProvider{item("q1"), item("q2")})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing owner", "/v1/attempts", `{}`, http.StatusBadRequest},
		{"malformed json", "/v1/attempts", `{"owner_reference":`, http.StatusBadRequest},
		{"unknown owner", "/v1/attempts", `{"owner_reference":"stranger"}`, http.StatusNotFound},
		{"unknown attempt", "/v1/attempts/nope/answers", `{"item_id":"q1","selected_option_index":0}`, http.StatusNotFound},
		{"negative option", "/v1/attempts/nope/answers", `{"item_id":"q1","selected_option_index":-1}`, http.StatusBadRequest},
		{"string option", "/v1/attempts/nope/answers", `{"item_id":"q1","selected_option_index":"1"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
			if _, ok := body["error"]; !ok {
				t.Errorf("error body = %v, want an error field", body)
			}
		})
	}
}

func TestInvalidBankIsUnavailable(t *testing.T) {
	srv := newServer(t, itembank.StaticProvider{{ID: "broken"}})

	resp, body := post(t, srv.URL+"/v1/attempts", `{"owner_reference":"session-1"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 (%v)", resp.StatusCode, body)
	}
}

func TestRegisterSession(t *testing.T) {
	srv := newServer(t, itembank.StaticProvider{item("q1"), item("q2")})

	resp, body := post(t, srv.URL+"/v1/sessions", `{"owner_reference":"session-2"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d (%v)", resp.StatusCode, body)
	}
	resp, body = post(t, srv.URL+"/v1/attempts", `{"owner_reference":"session-2","quiz_id":"intro"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("start for registered session status = %d (%v)", resp.StatusCode, body)
	}
	resp, _ = post(t, srv.URL+"/v1/sessions", `{"owner_reference":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty owner status = %d, want 400", resp.StatusCode)
	}
}

func TestReload(t *testing.T) {
	srv := newServer(t, itembank.StaticProvider{item("q1"), item("q2")})

	resp, body := post(t, srv.URL+"/v1/itembank/reload", ``)
	if resp.StatusCode != http.StatusOK || body["items"] != 2.0 {
		t.Errorf("reload = %d %v, want 200 with 2 items", resp.StatusCode, body)
	}
}

func TestWebSocket(t *testing.T) {
	srv := newServer(t, itembank.StaticProvider{item("q1"), item("q2"), item("q3")})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	roundTrip := func(msg map[string]any) map[string]any {
		t.Helper()
		if err := wsjson.Write(ctx, c, msg); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		var out map[string]any
		if err := wsjson.Read(ctx, c, &out); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		return out
	}

	started := roundTrip(map[string]any{"type": "start", "request_id": "r1", "owner_reference": "session-1"})
	if started["type"] != "started" || started["request_id"] != "r1" {
		t.Fatalf("start reply = %v", started)
	}
	id := started["attempt_id"].(string)

	step := roundTrip(map[string]any{"type": "answer", "attempt_id": id, "item_id": "q1", "selected_option_index": 0})
	if step["type"] != "step" || step["is_complete"] != false {
		t.Fatalf("answer reply = %v", step)
	}

	dup := roundTrip(map[string]any{"type": "answer", "attempt_id": id, "item_id": "q1", "selected_option_index": 0})
	if dup["type"] != "error" || dup["status"] != float64(http.StatusConflict) {
		t.Errorf("duplicate reply = %v, want a 409 error", dup)
	}

	next := step["next_item"].(map[string]any)["id"].(string)
	done := roundTrip(map[string]any{"type": "answer", "request_id": "r3", "attempt_id": id, "item_id": next, "selected_option_index": 1})
	if done["type"] != "step" || done["is_complete"] != true {
		t.Fatalf("final reply = %v", done)
	}
	if v, ok := done["next_item"]; !ok || v != nil {
		t.Errorf("final next_item = %v (present %v), want null", v, ok)
	}

	unknown := roundTrip(map[string]any{"type": "dance"})
	if unknown["type"] != "error" || unknown["status"] != float64(http.StatusBadRequest) {
		t.Errorf("unknown type reply = %v, want a 400 error", unknown)
	}
}

func TestNewHandler(t *testing.T) {
	if _, err := api.NewHandler(nil); err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
}
