package cipher

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// Algorithm identifiers as written into Envelope.Algo / Envelope.Version.
const (
	AlgoChaCha20 = "CHACHA20-PBKDF2-HKDF-HMAC-SHA256"
	VersionV2    = "v2"

	// AlgoLegacyXOR is the repeating-key XOR construction older submitters
	// produce. It is not confidential; it is accepted for wire compatibility only.
	AlgoLegacyXOR = "XOR-PBKDF2-HMAC-SHA256"
	VersionV1     = "v1"
)

const hkdfInfo = "idshield envelope v2"

// LegacyIVSize is the IV length labelled v1 envelopes carry.
const LegacyIVSize = 12

// scheme is one envelope construction keyed by a PBKDF2-derived key. seal
// fills raw.cipher and raw.tag; raw.salt and raw.iv are set by the caller.
type scheme interface {
	algo() string
	version() string
	ivSize() int
	seal(key []byte, raw *rawEnvelope, plaintext []byte) error
	open(key []byte, raw rawEnvelope) ([]byte, error)
}

// chachaScheme: HKDF splits the derived key into a stream key, nonce and MAC
// key; the tag covers the header, salt and ciphertext (encrypt-then-MAC).
type chachaScheme struct{}

func (chachaScheme) algo() string    { return AlgoChaCha20 }
func (chachaScheme) version() string { return VersionV2 }
func (chachaScheme) ivSize() int     { return 0 }

func (s chachaScheme) subkeys(key, salt []byte) (encKey, nonce, macKey []byte, err error) {
	buf := make([]byte, chacha20.KeySize+chacha20.NonceSize+KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, []byte(hkdfInfo)), buf); err != nil {
		return nil, nil, nil, fmt.Errorf("expand key: %w", err)
	}
	encKey = buf[:chacha20.KeySize]
	nonce = buf[chacha20.KeySize : chacha20.KeySize+chacha20.NonceSize]
	macKey = buf[chacha20.KeySize+chacha20.NonceSize:]
	return encKey, nonce, macKey, nil
}

func (s chachaScheme) tag(macKey, salt, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write([]byte(s.algo() + "|" + s.version() + "|"))
	mac.Write(salt)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

func (s chachaScheme) seal(key []byte, raw *rawEnvelope, plaintext []byte) error {
	encKey, nonce, macKey, err := s.subkeys(key, raw.salt)
	if err != nil {
		return err
	}
	stream, err := chacha20.NewUnauthenticatedCipher(encKey, nonce)
	if err != nil {
		return err
	}
	raw.cipher = make([]byte, len(plaintext))
	stream.XORKeyStream(raw.cipher, plaintext)
	raw.tag = s.tag(macKey, raw.salt, raw.cipher)
	return nil
}

func (s chachaScheme) open(key []byte, raw rawEnvelope) ([]byte, error) {
	encKey, nonce, macKey, err := s.subkeys(key, raw.salt)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(raw.tag, s.tag(macKey, raw.salt, raw.cipher)) {
		return nil, ErrIntegrity
	}
	stream, err := chacha20.NewUnauthenticatedCipher(encKey, nonce)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(raw.cipher))
	stream.XORKeyStream(pt, raw.cipher)
	return pt, nil
}

// xorScheme combines each byte with the cyclically repeated derived key and
// tags it with HMAC-SHA256 under the same key. Labelled v1 envelopes append
// their IV to the ciphertext before tagging; unlabelled ones tag the
// ciphertext alone.
type xorScheme struct {
	labelled bool
}

func (xorScheme) algo() string    { return AlgoLegacyXOR }
func (xorScheme) version() string { return VersionV1 }

func (s xorScheme) ivSize() int {
	if s.labelled {
		return LegacyIVSize
	}
	return 0
}

func (xorScheme) xor(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

func (s xorScheme) tag(key []byte, raw rawEnvelope) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(raw.cipher)
	if s.labelled {
		mac.Write(raw.iv)
	}
	return mac.Sum(nil)
}

func (s xorScheme) seal(key []byte, raw *rawEnvelope, plaintext []byte) error {
	raw.cipher = s.xor(plaintext, key)
	raw.tag = s.tag(key, *raw)
	return nil
}

func (s xorScheme) open(key []byte, raw rawEnvelope) ([]byte, error) {
	if !hmac.Equal(raw.tag, s.tag(key, raw)) {
		return nil, ErrIntegrity
	}
	return s.xor(raw.cipher, key), nil
}
