package mvstore

import (
	"bytes"
	"fmt"
	"strconv"
)

// buildTextMap renders an ordered list of key/hex-value pairs as
// "k1:v1,k2:v2,...\n", the plain-text self-describing format used for both
// the store header and chunk header/footer (§3, §6).
func buildTextMap(order []string, values map[string]uint64) []byte {
	var buf bytes.Buffer
	for i, k := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%s:%x", k, values[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// buildTextMapStr is like buildTextMap but for string-valued fields (used by
// the layout/meta maps, whose values are themselves already-encoded text).
func buildTextMapStr(order []string, values map[string]string) []byte {
	var buf bytes.Buffer
	for i, k := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%s:%s", k, values[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// parseTextMap parses "k1:v1,k2:v2,...\n" (trailing newline optional) into a
// key->raw-string-value map. Malformed entries are skipped.
func parseTextMap(data []byte) map[string]string {
	data = bytes.TrimRight(data, "\x00\n")
	out := make(map[string]string)
	for _, part := range bytes.Split(data, []byte(",")) {
		kv := bytes.SplitN(part, []byte(":"), 2)
		if len(kv) != 2 {
			continue
		}
		out[string(kv[0])] = string(kv[1])
	}
	return out
}

func parseHexField(m map[string]string, key string) (uint64, bool) {
	s, ok := m[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// appendFletcherField joins body (as produced by buildTextMap, which ends in
// a trailing newline) with a comma-separated self-checksum field covering
// exactly the bytes preceding it, used by both the store header and chunk
// footers (§3, §6 "fletcher32").
func appendFletcherField(body []byte) []byte {
	trimmed := bytes.TrimRight(body, "\n")
	sum := fletcher32(trimmed)
	out := make([]byte, 0, len(trimmed)+32)
	out = append(out, trimmed...)
	out = append(out, ',')
	out = append(out, []byte(fmt.Sprintf("fletcher:%x\n", sum))...)
	return out
}

// verifyFletcherField locates the ",fletcher:" field written by
// appendFletcherField, validates its checksum against the preceding bytes,
// and returns the parsed field map on success.
func verifyFletcherField(block []byte) (map[string]string, bool) {
	data := bytes.TrimRight(block, "\x00\n")
	marker := []byte(",fletcher:")
	idx := bytes.Index(data, marker)
	if idx < 0 {
		return nil, false
	}
	expected := fletcher32(data[:idx])
	m := parseTextMap(data)
	sumStr, ok := m["fletcher"]
	if !ok {
		return nil, false
	}
	got, err := strconv.ParseUint(sumStr, 16, 32)
	if err != nil || uint32(got) != expected {
		return nil, false
	}
	return m, true
}
