// Package signer implements the two MD5 signing schemes, the AES-256-ECB
// card-code cipher, and the base64 JSON envelope used by the upstream
// platform's GAME and GENERAL protocol families.
//
// None of the primitives here return an error for malformed input during
// signing: a signature is always produced for whatever fields are given.
// Verification is the only place that can fail, and it fails closed (returns
// false) rather than panicking.
package signer

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
)

// excludedGame are keys never included in the game MD5 scheme's signing base.
var excludedGame = map[string]bool{"sign": true}

// excludedGeneral are keys never included in the generic MD5 scheme's signing base.
var excludedGeneral = map[string]bool{"sign": true, "signType": true}

// filterParams drops excluded keys along with any empty-string value, per
// spec: a value that stringifies to "" is treated as absent, not as a
// literal empty string to sign over.
func filterParams(params map[string]string, excluded map[string]bool) []string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if excluded[k] {
			continue
		}
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GameSign computes the game-channel MD5 signature.
//
// plain = "k1=v1&k2=v2&...&kn=vn" + "&" + secret, keys sorted ASCII ascending,
// `sign` and empty-valued fields excluded.
func GameSign(params map[string]string, secret string) string {
	keys := filterParams(params, excludedGame)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	plain := ""
	for i, p := range parts {
		if i > 0 {
			plain += "&"
		}
		plain += p
	}
	plain += "&" + secret
	return md5Hex(plain)
}

// VerifyGameSign recomputes the game signature over params (minus any
// existing "sign" field) and compares case-insensitively against the sign
// field present in params. An empty secret disables verification (accepts
// unconditionally) — this is an explicit per-shop configuration opt-out.
func VerifyGameSign(params map[string]string, secret string) bool {
	if secret == "" {
		return true
	}
	received, ok := params["sign"]
	if !ok || received == "" {
		return false
	}
	expected := GameSign(params, secret)
	return equalFoldHex(received, expected)
}

// GeneralSign computes the generic-channel MD5 signature.
//
// plain = "k1v1k2v2...knvn" + secret, keys sorted ASCII ascending, `sign` and
// `signType` and empty-valued fields excluded.
func GeneralSign(params map[string]string, secret string) string {
	keys := filterParams(params, excludedGeneral)
	plain := ""
	for _, k := range keys {
		plain += k + params[k]
	}
	plain += secret
	return md5Hex(plain)
}

// VerifyGeneralSign recomputes the generic signature and compares
// case-insensitively. An empty secret disables verification.
func VerifyGeneralSign(params map[string]string, secret string) bool {
	if secret == "" {
		return true
	}
	received, ok := params["sign"]
	if !ok || received == "" {
		return false
	}
	expected := GeneralSign(params, secret)
	return equalFoldHex(received, expected)
}

// AgisoSign computes the Dialect A inventory-service signature:
// MD5(secret + "k1v1k2v2..." + secret), keys sorted ASCII ascending,
// excluding "sign".
func AgisoSign(params map[string]string, secret string) string {
	keys := filterParams(params, map[string]bool{"sign": true})
	plain := secret
	for _, k := range keys {
		plain += k + params[k]
	}
	plain += secret
	return md5Hex(plain)
}

// SortedFormSign computes MD5(k1=v1&k2=v2&...&kn=vn) over the given fields,
// sorted by ASCII key, `sign` and empty-valued fields excluded, with no
// secret appended.
func SortedFormSign(params map[string]string) string {
	keys := filterParams(params, map[string]bool{"sign": true})
	plain := ""
	for i, k := range keys {
		if i > 0 {
			plain += "&"
		}
		plain += fmt.Sprintf("%s=%s", k, params[k])
	}
	return md5Hex(plain)
}

func md5Hex(plain string) string {
	sum := md5.Sum([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func equalFoldHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
