package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried on the venue websocket handshake.
const (
	HeaderAPIKey    = "X-Venue-Key"
	HeaderTimestamp = "X-Venue-Timestamp"
	HeaderSignature = "X-Venue-Signature"
)

// HMACAuth holds the API credentials of the venue account.
type HMACAuth struct {
	Key    string
	Secret string // raw or base64; base64 is decoded before signing
}

// HandshakeHeaders returns the headers for the websocket upgrade request to
// path. The signature is base64(HMAC-SHA256(secret, timestamp+"GET"+path)).
func (h *HMACAuth) HandshakeHeaders(path string) http.Header {
	return h.HandshakeHeadersAt(path, time.Now().Unix())
}

// HandshakeHeadersAt is HandshakeHeaders with a caller-supplied Unix time.
func (h *HMACAuth) HandshakeHeadersAt(path string, unixTS int64) http.Header {
	ts := strconv.FormatInt(unixTS, 10)
	hdr := make(http.Header, 3)
	hdr.Set(HeaderAPIKey, h.Key)
	hdr.Set(HeaderTimestamp, ts)
	hdr.Set(HeaderSignature, Sign(h.secretBytes(), ts+http.MethodGet+path))
	return hdr
}

// Verify checks headers produced by HandshakeHeaders against path and
// rejects timestamps further than skew from now.
func (h *HMACAuth) Verify(hdr http.Header, path string, now time.Time, skew time.Duration) error {
	if hdr.Get(HeaderAPIKey) != h.Key {
		return fmt.Errorf("crypto: unknown api key")
	}
	ts := hdr.Get(HeaderTimestamp)
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: bad timestamp %q", ts)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > skew || d < -skew {
		return fmt.Errorf("crypto: timestamp outside %s window", skew)
	}
	want := Sign(h.secretBytes(), ts+http.MethodGet+path)
	if !hmac.Equal([]byte(want), []byte(hdr.Get(HeaderSignature))) {
		return fmt.Errorf("crypto: signature mismatch")
	}
	return nil
}

func (h *HMACAuth) secretBytes() []byte {
	b, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		return []byte(h.Secret)
	}
	return b
}

// Sign returns base64(HMAC-SHA256(key, message)).
func Sign(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
