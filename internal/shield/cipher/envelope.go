package cipher

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Envelope is one authenticated-encrypted payload in its transport form.
// Binary fields are standard base64. IV is only set on labelled v1
// envelopes, where it is covered by the tag.
type Envelope struct {
	Salt    string `json:"salt"`
	IV      string `json:"iv,omitempty"`
	Cipher  string `json:"cipher"`
	HMAC    string `json:"hmac"`
	Algo    string `json:"algo"`
	Version string `json:"version"`
}

// rawEnvelope is the decoded binary view of an Envelope.
type rawEnvelope struct {
	salt   []byte
	iv     []byte
	cipher []byte
	tag    []byte
}

// ParseEnvelope decodes a JSON object into an Envelope. Anything that is not
// a JSON object carrying salt, cipher and hmac is ErrMalformedEnvelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedEnvelope)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Salt == "" || env.HMAC == "" {
		return nil, fmt.Errorf("%w: salt and hmac are required", ErrMalformedEnvelope)
	}
	return &env, nil
}

// Clone returns a copy safe to mutate.
func (e *Envelope) Clone() *Envelope {
	c := *e
	return &c
}

func (e *Envelope) decode() (rawEnvelope, error) {
	salt, err := base64.StdEncoding.DecodeString(e.Salt)
	if err != nil {
		return rawEnvelope{}, fmt.Errorf("%w: salt: %v", ErrMalformedEnvelope, err)
	}
	if len(salt) != SaltSize {
		return rawEnvelope{}, fmt.Errorf("%w: salt must be %d bytes", ErrMalformedEnvelope, SaltSize)
	}
	iv, err := base64.StdEncoding.DecodeString(e.IV)
	if err != nil {
		return rawEnvelope{}, fmt.Errorf("%w: iv: %v", ErrMalformedEnvelope, err)
	}
	ct, err := base64.StdEncoding.DecodeString(e.Cipher)
	if err != nil {
		return rawEnvelope{}, fmt.Errorf("%w: cipher: %v", ErrMalformedEnvelope, err)
	}
	tag, err := base64.StdEncoding.DecodeString(e.HMAC)
	if err != nil {
		return rawEnvelope{}, fmt.Errorf("%w: hmac: %v", ErrMalformedEnvelope, err)
	}
	// A wrong-length tag can never verify; report it as tampering.
	if len(tag) != TagSize {
		return rawEnvelope{}, ErrIntegrity
	}
	return rawEnvelope{salt: salt, iv: iv, cipher: ct, tag: tag}, nil
}

func newEnvelope(s scheme, raw rawEnvelope) *Envelope {
	env := &Envelope{
		Salt:    base64.StdEncoding.EncodeToString(raw.salt),
		Cipher:  base64.StdEncoding.EncodeToString(raw.cipher),
		HMAC:    base64.StdEncoding.EncodeToString(raw.tag),
		Algo:    s.algo(),
		Version: s.version(),
	}
	if len(raw.iv) > 0 {
		env.IV = base64.StdEncoding.EncodeToString(raw.iv)
	}
	return env
}
