// Package codec encrypts Temporal payloads with AES-GCM so order details and
// task tokens never reach workflow history in clear text.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"
	"google.golang.org/protobuf/proto"
)

const (
	MetadataEncodingEncrypted = "binary/encrypted"
	MetadataEncryptionKeyID   = "encryption-key-id"

	DefaultKeyID = "order-saga"
)

// ErrKeyMismatch is returned when a payload was encrypted under another key id.
var ErrKeyMismatch = errors.New("payload encrypted with unknown key")

// Codec is a converter.PayloadCodec using AES-GCM.
type Codec struct {
	keyID string
	aead  cipher.AEAD
}

func NewCodec(keyID string, key []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Codec{keyID: keyID, aead: aead}, nil
}

// NewEncryptionDataConverter wraps the default data converter with encryption.
func NewEncryptionDataConverter(key []byte) (converter.DataConverter, error) {
	c, err := NewCodec(DefaultKeyID, key)
	if err != nil {
		return nil, err
	}
	return converter.NewCodecDataConverter(converter.GetDefaultDataConverter(), c), nil
}

// ParseKey decodes a hex AES key. An empty string yields a fresh random
// 256-bit key and generated=true.
func ParseKey(hexKey string) (key []byte, generated bool, err error) {
	if hexKey == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, false, fmt.Errorf("generate encryption key: %w", err)
		}
		return key, true, nil
	}
	key, err = hex.DecodeString(hexKey)
	if err != nil {
		return nil, false, fmt.Errorf("decode encryption key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, false, nil
	}
	return nil, false, fmt.Errorf("encryption key must be 16, 24 or 32 bytes, got %d", len(key))
}

// Encode implements converter.PayloadCodec.
func (c *Codec) Encode(payloads []*commonpb.Payload) ([]*commonpb.Payload, error) {
	result := make([]*commonpb.Payload, len(payloads))
	for i, p := range payloads {
		raw, err := proto.Marshal(p)
		if err != nil {
			return payloads, err
		}
		sealed, err := c.seal(raw)
		if err != nil {
			return payloads, err
		}
		result[i] = &commonpb.Payload{
			Metadata: map[string][]byte{
				converter.MetadataEncoding: []byte(MetadataEncodingEncrypted),
				MetadataEncryptionKeyID:    []byte(c.keyID),
			},
			Data: sealed,
		}
	}
	return result, nil
}

// Decode implements converter.PayloadCodec. Payloads that are not encrypted
// pass through untouched.
func (c *Codec) Decode(payloads []*commonpb.Payload) ([]*commonpb.Payload, error) {
	result := make([]*commonpb.Payload, len(payloads))
	for i, p := range payloads {
		if string(p.GetMetadata()[converter.MetadataEncoding]) != MetadataEncodingEncrypted {
			result[i] = p
			continue
		}
		if keyID := string(p.GetMetadata()[MetadataEncryptionKeyID]); keyID != c.keyID {
			return payloads, fmt.Errorf("%w: %q", ErrKeyMismatch, keyID)
		}
		raw, err := c.open(p.GetData())
		if err != nil {
			return payloads, err
		}
		result[i] = &commonpb.Payload{}
		if err := proto.Unmarshal(raw, result[i]); err != nil {
			return payloads, err
		}
	}
	return result, nil
}

func (c *Codec) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

func (c *Codec) open(sealed []byte) ([]byte, error) {
	size := c.aead.NonceSize()
	if len(sealed) < size {
		return nil, errors.New("ciphertext too short")
	}
	plain, err := c.aead.Open(nil, sealed[:size], sealed[size:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	return plain, nil
}
