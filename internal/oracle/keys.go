package oracle

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"VeilSum/internal/fhe"
	"VeilSum/internal/proof"
)

const (
	// DefaultModulusBits is the Paillier modulus size of generated keys.
	DefaultModulusBits = 2048

	// seedSize is the size of a generated committee seed.
	seedSize = 32
)

// Material is the secret state of an oracle: the decryption key shares of
// the committee and the seed its member signing keys derive from.
type Material struct {
	Key  *fhe.PrivateKey // Key decrypts aggregates with Key.Threshold shares
	Seed []byte          // Seed derives the committee member keys
}

// GenerateMaterial creates fresh key material for a committee of members of
// which threshold decrypt and sign together.
func GenerateMaterial(bits, members, threshold int) (*Material, error) {
	key, err := fhe.GenerateKey(bits, members, threshold)
	if err != nil {
		return nil, fmt.Errorf("generate paillier key:\n%w", err)
	}

	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate committee seed:\n%w", err)
	}

	return &Material{Key: key, Seed: seed}, nil
}

// Signer derives one signing key per key share from the seed and signs with
// the same threshold the shares decrypt with.
func (m *Material) Signer() (*proof.Signer, error) {
	members := len(m.Key.Shares)
	if members < 1 {
		return nil, fmt.Errorf("committee needs at least one member")
	}

	keys := make([]*proof.KeyPair, members)
	for i := range keys {
		kp, err := proof.DeriveMemberKey(m.Seed, i)
		if err != nil {
			return nil, fmt.Errorf("derive member %d:\n%w", i, err)
		}
		keys[i] = kp
	}

	return proof.NewSigner(keys, m.Key.Threshold)
}

// Save writes the decryption key as JSON to keyPath and the hex seed to seedPath.
func (m *Material) Save(keyPath, seedPath string) error {
	data, err := json.Marshal(m.Key)
	if err != nil {
		return fmt.Errorf("encode paillier key:\n%w", err)
	}

	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return fmt.Errorf("save paillier key to %s:\n%w", keyPath, err)
	}

	if err := os.WriteFile(seedPath, []byte(hex.EncodeToString(m.Seed)+"\n"), 0600); err != nil {
		return fmt.Errorf("save committee seed to %s:\n%w", seedPath, err)
	}

	return nil
}

// LoadMaterial reads material written by Save.
func LoadMaterial(keyPath, seedPath string) (*Material, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read paillier key:\n%w", err)
	}

	var key fhe.PrivateKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("decode paillier key:\n%w", err)
	}

	raw, err := os.ReadFile(seedPath)
	if err != nil {
		return nil, fmt.Errorf("read committee seed:\n%w", err)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode committee seed:\n%w", err)
	}

	if len(seed) < seedSize {
		return nil, fmt.Errorf("committee seed too short: %d bytes", len(seed))
	}

	return &Material{Key: &key, Seed: seed}, nil
}

// LoadOrGenerateMaterial loads material from the given paths, generating and
// saving it when the key file does not exist.
func LoadOrGenerateMaterial(keyPath, seedPath string, bits, members, threshold int) (*Material, error) {
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		m, err := GenerateMaterial(bits, members, threshold)
		if err != nil {
			return nil, err
		}

		if err := m.Save(keyPath, seedPath); err != nil {
			return nil, err
		}

		return m, nil
	}

	return LoadMaterial(keyPath, seedPath)
}

// WritePublicKey writes the Paillier public key as JSON.
func WritePublicKey(path string, pk *fhe.PublicKey) error {
	data, err := json.Marshal(pk)
	if err != nil {
		return fmt.Errorf("encode public key:\n%w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save public key to %s:\n%w", path, err)
	}

	return nil
}

// LoadPublicKey reads a Paillier public key written by WritePublicKey.
func LoadPublicKey(path string) (*fhe.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key:\n%w", err)
	}

	var pk fhe.PublicKey
	if err := json.Unmarshal(data, &pk); err != nil {
		return nil, fmt.Errorf("decode public key:\n%w", err)
	}

	return &pk, nil
}

// WriteCommittee writes one hex BLS public key per line, the format read by
// proof.LoadCommitteeFile.
func WriteCommittee(path string, c *proof.Committee) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# oracle committee, threshold %d\n", c.Threshold)

	for _, pk := range c.PublicKeys {
		b.WriteString(hex.EncodeToString(pk))
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("save committee to %s:\n%w", path, err)
	}

	return nil
}
