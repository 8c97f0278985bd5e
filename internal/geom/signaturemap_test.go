package geom

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseSignatureMapArray(t *testing.T) {
	raw := json.RawMessage(`[
		{"id":"a","page":1,"x_pct":0.1,"y_pct":0.2,"w_pct":0.3,"h_pct":0.05},
		{"id":"b","page":2,"x_pct":0.5,"y_pct":0.5,"w_pct":0.2,"h_pct":0.1}
	]`)
	boxes, err := ParseSignatureMap(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := []Box{
		{ID: "a", Page: 1, X: 0.1, Y: 0.2, W: 0.3, H: 0.05},
		{ID: "b", Page: 2, X: 0.5, Y: 0.5, W: 0.2, H: 0.1},
	}
	if diff := cmp.Diff(want, boxes); diff != "" {
		t.Errorf("boxes mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSignatureMapSingle(t *testing.T) {
	raw := json.RawMessage(`{"page":3,"x_pct":0.25,"y_pct":0.75,"w_pct":0.2,"h_pct":0.08}`)
	boxes, err := ParseSignatureMap(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 {
		t.Fatalf("got %d boxes, want 1", len(boxes))
	}
	if boxes[0].Page != 3 || boxes[0].X != 0.25 {
		t.Errorf("unexpected box %+v", boxes[0])
	}
}

func TestParseSignatureMapLegacy(t *testing.T) {
	raw := json.RawMessage(`{
		"accounting": {"page":1,"x_pct":0.1,"y_pct":0.8,"w_pct":0.25,"h_pct":0.06},
		"issuer":     {"page":1,"x_pct":0.6,"y_pct":0.8,"w_pct":0.25,"h_pct":0.06}
	}`)
	boxes, err := ParseSignatureMap(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 2 {
		t.Fatalf("got %d boxes, want 2", len(boxes))
	}
	// Accounting first, issuer second: rendering order must be stable.
	if boxes[0].X != 0.1 || boxes[1].X != 0.6 {
		t.Errorf("legacy order not preserved: %+v", boxes)
	}
}

func TestParseSignatureMapLegacyPartial(t *testing.T) {
	raw := json.RawMessage(`{"issuer": {"page":2,"x_pct":0.6,"y_pct":0.8,"w_pct":0.25,"h_pct":0.06}}`)
	boxes, err := ParseSignatureMap(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 || boxes[0].Page != 2 {
		t.Errorf("unexpected boxes %+v", boxes)
	}
}

func TestParseSignatureMapEmpty(t *testing.T) {
	boxes, err := ParseSignatureMap(nil)
	if err != nil || boxes != nil {
		t.Errorf("got %v, %v", boxes, err)
	}
}

func TestParseSignatureMapGarbage(t *testing.T) {
	if _, err := ParseSignatureMap(json.RawMessage(`"nope"`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestEncodeSignatureMapRoundTrip(t *testing.T) {
	in := []Box{{ID: "a", Page: 1, X: 0.1, Y: 0.2, W: 0.3, H: 0.05}}
	raw, err := EncodeSignatureMap(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := ParseSignatureMap(raw)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
