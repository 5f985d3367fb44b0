package signer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// EncodeEnvelope serializes v to compact JSON (UTF-8, no ASCII escaping) and
// returns the standard-base64 encoding, for the game channel's `data` field.
func EncodeEnvelope(v interface{}) (string, error) {
	buf, err := marshalNoEscape(v)
	if err != nil {
		return "", fmt.Errorf("signer: marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecodeEnvelope base64-decodes data (tolerating URL-safe alphabet and
// missing padding) and unmarshals the result into v. It tries UTF-8 first;
// on JSON-decode failure it retries after a GBK-to-UTF-8 transcode, since
// some legacy callers emit GBK-encoded business payloads inside the base64
// envelope.
func DecodeEnvelope(data string, v interface{}) error {
	raw, err := decodeBase64Lenient(data)
	if err != nil {
		return fmt.Errorf("signer: decode envelope base64: %w", err)
	}

	if err := json.Unmarshal(raw, v); err == nil {
		return nil
	}

	decoded, gbkErr := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if gbkErr != nil {
		return fmt.Errorf("signer: decode envelope: not valid UTF-8 JSON and GBK fallback failed: %w", gbkErr)
	}
	if err := json.Unmarshal(decoded, v); err != nil {
		return fmt.Errorf("signer: decode envelope: invalid JSON in both UTF-8 and GBK: %w", err)
	}
	return nil
}

// decodeBase64Lenient accepts both the standard and URL-safe base64
// alphabets and tolerates missing padding.
func decodeBase64Lenient(data string) ([]byte, error) {
	data = strings.ReplaceAll(data, "-", "+")
	data = strings.ReplaceAll(data, "_", "/")
	if pad := len(data) % 4; pad != 0 {
		data += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(data)
}

// marshalNoEscape runs json.Marshal without HTML-escaping, matching
// Python's json.dumps(..., ensure_ascii=False) output shape for non-ASCII
// business fields such as buyer account names.
func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; strip it to match a
	// compact single-line envelope.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
