package protocol

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTextDecoder_SplitMatchesSingleShot(t *testing.T) {
	single, err := ParseResult([]byte(finalDoc))
	if err != nil {
		t.Fatalf("ParseResult failed: %v", err)
	}

	for split := 0; split <= len(finalDoc); split++ {
		d := NewTextDecoder()
		d.Append([]byte(finalDoc[:split]))
		doc := d.End([]byte(finalDoc[split:]))

		res, err := ParseResult(doc)
		if err != nil {
			t.Fatalf("split %d: ParseResult failed: %v", split, err)
		}
		if diff := cmp.Diff(single, res); diff != "" {
			t.Errorf("split %d: result differs (-single +split):\n%s", split, diff)
		}
	}
}

func TestTextDecoder_DocumentsDoNotBleed(t *testing.T) {
	d := NewTextDecoder()

	d.Append([]byte(`{"type":"partial",`))
	first := d.End([]byte(`"id":"a","recognition":"one"}`))
	if d.Pending() != 0 {
		t.Errorf("Expected empty buffer after End, got %d bytes", d.Pending())
	}
	second := d.End([]byte(`{"type":"final","id":"b","recognition":"two"}`))

	r1, err := ParseResult(first)
	if err != nil {
		t.Fatalf("first document: %v", err)
	}
	r2, err := ParseResult(second)
	if err != nil {
		t.Fatalf("second document: %v", err)
	}
	if r1.Body().ID != "a" || r2.Body().ID != "b" {
		t.Errorf("Expected ids a and b, got %s and %s", r1.Body().ID, r2.Body().ID)
	}
}

func TestTextDecoder_AsyncDecodeAfterSwap(t *testing.T) {
	d := NewTextDecoder()
	docs := make(chan []byte, 10)

	var (
		wg  sync.WaitGroup
		ids []string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for doc := range docs {
			res, err := ParseResult(doc)
			if err != nil {
				t.Errorf("Decode failed: %v", err)
				continue
			}
			ids = append(ids, res.Body().ID)
		}
	}()

	for _, id := range []string{"1", "2", "3"} {
		d.Append([]byte(`{"type":"final",`))
		docs <- d.End([]byte(`"id":"` + id + `"}`))
	}
	close(docs)
	wg.Wait()

	if diff := cmp.Diff([]string{"1", "2", "3"}, ids); diff != "" {
		t.Errorf("Unexpected ids (-want +got):\n%s", diff)
	}
}
