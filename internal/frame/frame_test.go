package frame

import (
	"encoding/json"
	"sync"
	"testing"
)

func testCodec() *Codec {
	return NewCodec(Source{Name: "Teamwork Chat Node API", Version: "0.9.0"})
}

func TestCodecNew(t *testing.T) {
	t.Parallel()

	f, err := testCodec().New(NamePing, nil, true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.ContentType != ContentTypeObject {
		t.Errorf("ContentType = %q, want %q", f.ContentType, ContentTypeObject)
	}
	if f.Name != NamePing {
		t.Errorf("Name = %q, want %q", f.Name, NamePing)
	}
	if f.Nonce == nil || *f.Nonce != 1 {
		t.Errorf("Nonce = %v, want 1", f.Nonce)
	}
	if f.Source == nil || f.Source.Name != "Teamwork Chat Node API" {
		t.Errorf("Source = %+v, want the codec identity", f.Source)
	}
	if string(f.Contents) != "{}" {
		t.Errorf("Contents = %s, want empty object", f.Contents)
	}
}

func TestCodecNewUnnonced(t *testing.T) {
	t.Parallel()

	f, err := testCodec().New(NameUserModifiedStatus, map[string]any{"status": "idle"}, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Nonce != nil {
		t.Errorf("Nonce = %v, want nil for unnonced frame", *f.Nonce)
	}
}

// The serialised envelope must carry every protocol key, with uid and nodeId
// explicitly null.
func TestFrameMarshalEnvelope(t *testing.T) {
	t.Parallel()

	f, err := testCodec().New(NameRoomTyping, map[string]any{"roomId": 7, "isTyping": true}, true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	raw, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"contentType", "name", "contents", "nonce", "source", "uid", "nodeId"} {
		if _, ok := envelope[key]; !ok {
			t.Errorf("envelope missing key %q", key)
		}
	}
	for _, key := range []string{"uid", "nodeId"} {
		if string(envelope[key]) != "null" {
			t.Errorf("envelope[%q] = %s, want null", key, envelope[key])
		}
	}
}

func TestNonceMonotonic(t *testing.T) {
	t.Parallel()

	codec := testCodec()
	var last int64
	for i := 0; i < 100; i++ {
		f, err := codec.New(NamePing, nil, true)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if *f.Nonce <= last {
			t.Fatalf("nonce %d not greater than previous %d", *f.Nonce, last)
		}
		last = *f.Nonce
	}
}

func TestNonceSourceConcurrent(t *testing.T) {
	t.Parallel()

	var src NonceSource
	const goroutines, perGoroutine = 8, 250

	seen := make(chan int64, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				seen <- src.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]struct{}, goroutines*perGoroutine)
	for n := range seen {
		if _, dup := unique[n]; dup {
			t.Fatalf("nonce %d issued twice", n)
		}
		unique[n] = struct{}{}
	}
	if len(unique) != goroutines*perGoroutine {
		t.Fatalf("issued %d nonces, want %d", len(unique), goroutines*perGoroutine)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"contentType":"object","name":"room.message.created","contents":{"id":52,"body":"howya lad","roomId":1},"nonce":null}`)
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.Name != NameRoomMessageCreated {
		t.Errorf("Name = %q, want %q", f.Name, NameRoomMessageCreated)
	}
	if f.Nonce != nil {
		t.Errorf("Nonce = %v, want nil", *f.Nonce)
	}

	var contents struct {
		ID     int64  `json:"id"`
		Body   string `json:"body"`
		RoomID int64  `json:"roomId"`
	}
	if err := f.Decode(&contents); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if contents.ID != 52 || contents.Body != "howya lad" || contents.RoomID != 1 {
		t.Errorf("contents = %+v, want id=52 body=%q roomId=1", contents, "howya lad")
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte(`{"name":`)); err == nil {
		t.Fatal("Parse() error = nil, want parse failure")
	}
}
