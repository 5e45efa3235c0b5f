package cryptobox

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	"golang.org/x/crypto/nacl/box"

	"github.com/shardsafe/kanon-engine/pkg/models"
)

// KeyPair is the coordinator's per-request sealed-box keypair. The private
// key never leaves the coordinator; participants only ever see the 32-byte
// public key from the INFORMATION message.
type KeyPair struct {
	public  *[32]byte
	private *[32]byte
}

// GenerateKeyPair creates a fresh X25519 keypair for one request. Keys are
// request-scoped on purpose — there is no process-level keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating sealed-box keypair: %v", err)
	}
	return &KeyPair{public: pub, private: priv}, nil
}

// PublicKey returns the raw public key.
func (kp *KeyPair) PublicKey() *[32]byte {
	return kp.public
}

// PublicKeyBytes serializes the public key for the INFORMATION message.
func (kp *KeyPair) PublicKeyBytes() []byte {
	out := make([]byte, 32)
	copy(out, kp.public[:])
	return out
}

// PublicKeyFromBytes parses a serialized public key received on the ring.
func PublicKeyFromBytes(b []byte) (*[32]byte, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("public key must be 32 bytes, got %d", len(b))
	}
	var pk [32]byte
	copy(pk[:], b)
	return &pk, nil
}

// Seal encrypts a message to the public key using an anonymous sealed box: a
// fresh ephemeral sender key per ciphertext, so identical plaintexts yield
// distinct ciphertexts and nothing identifies the sender.
func Seal(pub *[32]byte, plaintext []byte) ([]byte, error) {
	ct, err := box.SealAnonymous(nil, plaintext, pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sealing row: %v", err)
	}
	return ct, nil
}

// Open decrypts a sealed ciphertext with the request keypair.
func (kp *KeyPair) Open(ciphertext []byte) ([]byte, error) {
	pt, ok := box.OpenAnonymous(nil, ciphertext, kp.public, kp.private)
	if !ok {
		return nil, fmt.Errorf("sealed box decryption failed")
	}
	return pt, nil
}

// EncryptRows seals data rows rowwise: one ciphertext per row.
func EncryptRows(rows []models.Row, pub *[32]byte) ([][]byte, error) {
	result := make([][]byte, 0, len(rows))
	for _, row := range rows {
		serialized, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("serializing row: %v", err)
		}
		ct, err := Seal(pub, serialized)
		if err != nil {
			return nil, err
		}
		result = append(result, ct)
	}
	return result, nil
}

// DecryptRows opens sealed rows rowwise. Any failure is fatal for the
// request — a ciphertext the coordinator cannot open means the collection
// protocol was violated.
func (kp *KeyPair) DecryptRows(ciphertexts [][]byte) ([]models.Row, error) {
	result := make([]models.Row, 0, len(ciphertexts))
	for i, ct := range ciphertexts {
		pt, err := kp.Open(ct)
		if err != nil {
			return nil, fmt.Errorf("row %d: %v", i, err)
		}
		row, err := decodeRow(pt)
		if err != nil {
			return nil, fmt.Errorf("row %d: %v", i, err)
		}
		result = append(result, row)
	}
	return result, nil
}

// decodeRow parses a serialized row keeping integer cells exact
// (json.Number), so the result sort and dummy detection behave the same on
// both sides of the seal.
func decodeRow(data []byte) (models.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row models.Row
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decoding row: %v", err)
	}
	return row, nil
}

// Shuffle permutes ciphertexts in place with a Fisher–Yates draw from
// crypto/rand. Participants shuffle the combined list before forwarding so
// list position reveals nothing about row origin.
func Shuffle(cts [][]byte) error {
	for i := len(cts) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("shuffling ciphertexts: %v", err)
		}
		cts[i], cts[j.Int64()] = cts[j.Int64()], cts[i]
	}
	return nil
}
