package mvstore

import "testing"

func TestBuildAndParseTextMap(t *testing.T) {
	order := []string{"chunk", "version", "block"}
	values := map[string]uint64{"chunk": 5, "version": 42, "block": 0x1a}
	raw := buildTextMap(order, values)

	parsed := parseTextMap(raw)
	for _, k := range order {
		got, ok := parseHexField(parsed, k)
		if !ok {
			t.Fatalf("missing field %q in parsed map: %q", k, raw)
		}
		if got != values[k] {
			t.Errorf("field %q: got %x want %x", k, got, values[k])
		}
	}
}

func TestParseTextMapSkipsMalformedEntries(t *testing.T) {
	parsed := parseTextMap([]byte("chunk:5,garbage,version:2a\n"))
	if _, ok := parseHexField(parsed, "chunk"); !ok {
		t.Error("expected chunk field to survive a malformed neighbor entry")
	}
	if _, ok := parseHexField(parsed, "version"); !ok {
		t.Error("expected version field to survive a malformed neighbor entry")
	}
	if _, ok := parsed["garbage"]; ok {
		t.Error("a colon-less entry should not produce a map key")
	}
}

func TestBuildTextMapStrRoundTrip(t *testing.T) {
	order := []string{"name", "id"}
	values := map[string]string{"name": "default", "id": "3"}
	raw := buildTextMapStr(order, values)
	parsed := parseTextMap(raw)
	if parsed["name"] != "default" || parsed["id"] != "3" {
		t.Errorf("round trip mismatch: got %+v", parsed)
	}
}

func TestParseHexFieldMissing(t *testing.T) {
	parsed := parseTextMap([]byte("a:1\n"))
	if _, ok := parseHexField(parsed, "b"); ok {
		t.Error("parseHexField should report ok=false for an absent key")
	}
}
