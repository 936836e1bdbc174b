package proof

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// testSigner builds a committee of size members with the given threshold.
func testSigner(t *testing.T, size, threshold int) *Signer {
	t.Helper()

	seed := bytes.Repeat([]byte{7}, 32)
	members := make([]*KeyPair, size)

	for i := range members {
		key, err := DeriveMemberKey(seed, i)
		if err != nil {
			t.Fatalf("derive member %d: %v", i, err)
		}
		members[i] = key
	}

	signer, err := NewSigner(members, threshold)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	return signer
}

// TestSignVerify tests basic sign and verify.
func TestSignVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	message := []byte("sum=30 count=2")
	signature := key.Sign(message)

	if len(signature) != SignatureSize {
		t.Errorf("signature size: got %d, want %d", len(signature), SignatureSize)
	}

	if !Verify(signature, message, key.PublicKeyBytes()) {
		t.Error("valid signature should verify")
	}

	if Verify(signature, []byte("sum=31 count=2"), key.PublicKeyBytes()) {
		t.Error("signature should not verify with wrong message")
	}
}

// TestDeterministicMemberKeys tests that member derivation is stable and distinct.
func TestDeterministicMemberKeys(t *testing.T) {
	seed := bytes.Repeat([]byte{1}, 32)

	a0, _ := DeriveMemberKey(seed, 0)
	b0, _ := DeriveMemberKey(seed, 0)
	a1, _ := DeriveMemberKey(seed, 1)

	if !bytes.Equal(a0.PublicKeyBytes(), b0.PublicKeyBytes()) {
		t.Error("same seed and index should produce same key")
	}

	if bytes.Equal(a0.PublicKeyBytes(), a1.PublicKeyBytes()) {
		t.Error("different indices should produce different keys")
	}
}

// TestSignerBitmap tests bitmap round trip.
func TestSignerBitmap(t *testing.T) {
	bitmap := BuildSignerBitmap([]int{0, 2, 9, 42}, 10)

	got := ParseSignerBitmap(bitmap)
	want := []int{0, 2, 9}

	if len(got) != len(want) {
		t.Fatalf("indices = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("indices = %v, want %v", got, want)
		}
	}
}

// TestCommitteeProof tests a threshold proof produced by the signer.
func TestCommitteeProof(t *testing.T) {
	signer := testSigner(t, 4, 3)
	committee := signer.Committee()

	cleartexts := bytes.Repeat([]byte{0}, 64)
	cleartexts[31] = 30
	cleartexts[63] = 2

	p, err := signer.Prove("req-1", cleartexts)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	if err := committee.Verify("req-1", cleartexts, p); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Bound to the request id
	if err := committee.Verify("req-2", cleartexts, p); !errors.Is(err, ErrBadSignature) {
		t.Errorf("other id: err = %v, want ErrBadSignature", err)
	}

	// Bound to the cleartexts
	tampered := bytes.Clone(cleartexts)
	tampered[31] = 31
	if err := committee.Verify("req-1", tampered, p); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered: err = %v, want ErrBadSignature", err)
	}
}

// TestCommitteeThreshold tests that too few signers are rejected.
func TestCommitteeThreshold(t *testing.T) {
	signer := testSigner(t, 4, 2)
	p, err := signer.Prove("req", []byte("x"))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	strict := &Committee{PublicKeys: signer.Committee().PublicKeys, Threshold: 3}

	if err := strict.Verify("req", []byte("x"), p); !errors.Is(err, ErrBelowThreshold) {
		t.Errorf("err = %v, want ErrBelowThreshold", err)
	}
}

// TestDecodeMalformed tests proof parsing failures.
func TestDecodeMalformed(t *testing.T) {
	for _, data := range [][]byte{nil, {0}, {0, 1, 0xFF}} {
		if _, _, err := Decode(data); !errors.Is(err, ErrMalformedProof) {
			t.Errorf("Decode(%x): err = %v, want ErrMalformedProof", data, err)
		}
	}
}

// TestNewCommitteeValidation tests committee construction checks.
func TestNewCommitteeValidation(t *testing.T) {
	keys := testSigner(t, 2, 1).Committee().PublicKeys

	if _, err := NewCommittee(keys, 3); err == nil {
		t.Error("threshold above size should fail")
	}

	if _, err := NewCommittee(nil, 1); err == nil {
		t.Error("empty committee should fail")
	}

	if _, err := NewCommittee([][]byte{{1, 2}}, 1); err == nil {
		t.Error("short key should fail")
	}
}

// TestLoadCommitteeFile tests the hex key file loader.
func TestLoadCommitteeFile(t *testing.T) {
	keys := testSigner(t, 3, 2).Committee().PublicKeys

	var buf bytes.Buffer
	buf.WriteString("# oracle committee\n")
	for _, k := range keys {
		buf.WriteString(hex.EncodeToString(k) + "\n")
	}

	path := filepath.Join(t.TempDir(), "committee.txt")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := LoadCommitteeFile(path, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(c.PublicKeys) != 3 || c.Threshold != 2 {
		t.Errorf("committee = %d keys threshold %d", len(c.PublicKeys), c.Threshold)
	}
}
