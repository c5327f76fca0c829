// Package canonical builds the deterministic message a signed request is
// authenticated against. Client and server must produce byte-identical
// output for the same logical request, so every field with internal
// structure (the JSON body) is serialized in a canonical form first.
package canonical

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Delimiter joins the signable fields. None of the fields may contain it:
// paths and verbs never do after normalization, nonces are alphanumeric,
// HTTP-dates contain no dots, and the body is base64-encoded.
const Delimiter = "."

// Message concatenates the signable fields of a request into the exact
// string fed to the signature function: path, verb, nonce, HTTP-date
// timestamp and the canonical body encoding, joined by Delimiter.
//
// body is the raw JSON payload, or nil/empty when the request has none.
func Message(path, verb, nonce string, timestamp time.Time, body []byte) (string, error) {
	enc, err := EncodeBody(body)
	if err != nil {
		return "", err
	}
	fields := []string{
		normalizePath(path),
		strings.ToUpper(strings.TrimSpace(verb)),
		strings.TrimSpace(nonce),
		HTTPDate(timestamp),
		enc,
	}
	return strings.Join(fields, Delimiter), nil
}

// HTTPDate formats a timestamp the way it travels in the Date header
// (RFC 7231). Sub-second precision is deliberately dropped: both sides
// must derive the signature from the header value alone.
func HTTPDate(t time.Time) string {
	return t.UTC().Format(http1DateLayout)
}

// ParseHTTPDate is the inverse of HTTPDate.
func ParseHTTPDate(s string) (time.Time, error) {
	return time.Parse(http1DateLayout, strings.TrimSpace(s))
}

const http1DateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// EncodeBody returns the base64 encoding of the body's canonical JSON
// form, or the empty string when there is no body. Object keys are
// sorted lexicographically at every nesting level so that two
// serializations of the same logical object always agree.
func EncodeBody(body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}
	canon, err := JSON(body)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(canon), nil
}

// JSON re-serializes raw JSON with object keys sorted lexicographically
// at every depth. Number literals pass through verbatim.
func JSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical: invalid JSON body: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		return nil, fmt.Errorf("canonical: trailing content after JSON body")
	}
	var b bytes.Buffer
	if err := writeValue(&b, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func writeValue(b *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(kb)
			b.WriteByte(':')
			if err := writeValue(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeValue(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case json.Number:
		b.WriteString(t.String())
		return nil
	default:
		eb, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b.Write(eb)
		return nil
	}
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
