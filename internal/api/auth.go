package api

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"VeilSum/internal/ledger"
)

// Signed request headers.
const (
	HeaderActor     = "X-Actor"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// HeaderEventSeq carries the event sequence a snapshot was taken at.
const HeaderEventSeq = "X-Event-Seq"

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB

	// maxClockSkew is the accepted distance between the signed timestamp and now.
	maxClockSkew = 30 * time.Second
)

// RequestDigest returns the message an actor signs for a request:
// BLAKE3(method || " " || path || "\n" || timestamp || "\n" || body).
func RequestDigest(method, path string, timestamp int64, body []byte) [32]byte {
	h := blake3.New()
	h.Write([]byte(method))
	h.Write([]byte{' '})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte{'\n'})
	h.Write(body)

	var digest [32]byte
	copy(digest[:], h.Sum(nil))

	return digest
}

// Sign sets the signed request headers on r for the given key and body.
func Sign(r *http.Request, key ed25519.PrivateKey, timestamp time.Time, body []byte) {
	ts := timestamp.Unix()
	digest := RequestDigest(r.Method, r.URL.Path, ts, body)

	var actor ledger.Actor
	copy(actor[:], key.Public().(ed25519.PublicKey))

	r.Header.Set(HeaderActor, actor.String())
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderSignature, hex.EncodeToString(ed25519.Sign(key, digest[:])))
}

// authenticate reads the body of r and verifies its signature.
// It returns the signing actor and the body.
func authenticate(r *http.Request, now time.Time) (ledger.Actor, []byte, error) {
	var actor ledger.Actor

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return actor, nil, fmt.Errorf("read body:\n%w", err)
	}

	if len(body) > maxBodySize {
		return actor, nil, fmt.Errorf("body exceeds %d bytes", maxBodySize)
	}

	actor, err = ledger.ParseActor(r.Header.Get(HeaderActor))
	if err != nil {
		return actor, nil, fmt.Errorf("invalid %s header:\n%w", HeaderActor, err)
	}

	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return actor, nil, fmt.Errorf("invalid %s header", HeaderTimestamp)
	}

	skew := now.Sub(time.Unix(ts, 0))
	if skew > maxClockSkew || skew < -maxClockSkew {
		return actor, nil, fmt.Errorf("timestamp outside the accepted window")
	}

	sig, err := decodeSignature(r.Header.Get(HeaderSignature))
	if err != nil {
		return actor, nil, err
	}

	digest := RequestDigest(r.Method, r.URL.Path, ts, body)
	if !ed25519.Verify(actor[:], digest[:], sig) {
		return actor, nil, fmt.Errorf("invalid signature")
	}

	return actor, body, nil
}

// decodeSignature parses a hex ed25519 signature.
func decodeSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding")
	}

	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: got %d, want %d", len(sig), ed25519.SignatureSize)
	}

	return sig, nil
}
