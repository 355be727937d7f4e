package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// DomainEvent prefixes the hashed bytes of every event ID.
const DomainEvent = "paystream/event/v1"

// MarshalCanonical encodes fields as RFC 8785 style canonical JSON: keys in
// UTF-16 order, NFC strings, no HTML escaping, integers only.
func MarshalCanonical(fields Fields) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeObject(&buf, fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalFields decodes canonical JSON produced by MarshalCanonical.
// Numbers come back as uint64.
func UnmarshalFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	out := make(Fields, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case json.Number:
			n, err := strconv.ParseUint(val.String(), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = n
		case string, bool:
			out[k] = val
		default:
			return nil, fmt.Errorf("field %q: unsupported type %T", k, v)
		}
	}
	return out, nil
}

// ComputeID hashes the canonical form of every event field except ID and
// Seq. Seq is assigned by the event log and must not change identity.
func ComputeID(e Event) (string, error) {
	fields, err := MarshalCanonical(e.Fields)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"fields":`)
	buf.Write(fields)
	for _, kv := range []struct {
		key string
		val any
	}{
		{"kind", string(e.Kind)},
		{"slot", e.Slot},
		{"stream", e.Stream},
		{"time", e.Time},
		{"token", e.Token},
		{"treasury", e.Treasury},
	} {
		buf.WriteByte(',')
		if err := writeString(&buf, kv.key); err != nil {
			return "", err
		}
		buf.WriteByte(':')
		if err := writeValue(&buf, kv.val); err != nil {
			return "", err
		}
	}
	buf.WriteByte('}')
	return hashWithDomain(DomainEvent, buf.Bytes()), nil
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func writeObject(buf *bytes.Buffer, fields Fields) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := writeValue(buf, fields[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case string:
		return writeString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	buf.Write(unescapeSeparators(out))
	return nil
}

// unescapeSeparators turns the \u2028 and \u2029 escapes added by
// encoding/json back into raw characters. An escape preceded by an odd run of
// backslashes is literal text and stays as is.
func unescapeSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && string(data[i+1:i+5]) == "u202" &&
			(data[i+5] == '8' || data[i+5] == '9') {
			run := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				run++
			}
			if run%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

// compareUTF16 orders strings by UTF-16 code units, not UTF-8 bytes.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}
