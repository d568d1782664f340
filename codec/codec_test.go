package codec

import (
	"bytes"
	"encoding/hex"
	"testing"

	"order-saga/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestEncryptionDataConverter_HidesPayload(t *testing.T) {
	dc, err := NewEncryptionDataConverter(testKey(1))
	require.NoError(t, err)

	token := models.ContinuationToken{ExecutionID: "order-saga-1", CorrelationID: "corr-1", TaskToken: []byte("secret-task-token")}
	payload, err := dc.ToPayload(token)
	require.NoError(t, err)

	assert.Equal(t, MetadataEncodingEncrypted, string(payload.Metadata[converter.MetadataEncoding]))
	assert.NotContains(t, string(payload.Data), "order-saga-1")

	var got models.ContinuationToken
	require.NoError(t, dc.FromPayload(payload, &got))
	assert.Equal(t, token, got)
}

func TestCodec_Decode(t *testing.T) {
	c, err := NewCodec(DefaultKeyID, testKey(1))
	require.NoError(t, err)
	plain := &commonpb.Payload{
		Metadata: map[string][]byte{converter.MetadataEncoding: []byte(converter.MetadataEncodingJSON)},
		Data:     []byte(`"hello"`),
	}

	t.Run("plain payloads pass through", func(t *testing.T) {
		out, err := c.Decode([]*commonpb.Payload{plain})
		require.NoError(t, err)
		assert.Same(t, plain, out[0])
	})

	t.Run("wrong key fails", func(t *testing.T) {
		other, err := NewCodec(DefaultKeyID, testKey(2))
		require.NoError(t, err)
		enc, err := c.Encode([]*commonpb.Payload{plain})
		require.NoError(t, err)
		_, err = other.Decode(enc)
		assert.Error(t, err)
	})

	t.Run("unknown key id fails", func(t *testing.T) {
		other, err := NewCodec("rotated", testKey(1))
		require.NoError(t, err)
		enc, err := c.Encode([]*commonpb.Payload{plain})
		require.NoError(t, err)
		_, err = other.Decode(enc)
		assert.ErrorIs(t, err, ErrKeyMismatch)
	})
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name          string
		hexKey        string
		wantLen       int
		wantGenerated bool
		wantErr       bool
	}{
		{name: "empty generates", hexKey: "", wantLen: 32, wantGenerated: true},
		{name: "aes-128", hexKey: hex.EncodeToString(bytes.Repeat([]byte{7}, 16)), wantLen: 16},
		{name: "aes-256", hexKey: hex.EncodeToString(testKey(7)), wantLen: 32},
		{name: "bad length", hexKey: "abcd", wantErr: true},
		{name: "not hex", hexKey: "zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, generated, err := ParseKey(tt.hexKey)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, tt.wantLen)
			assert.Equal(t, tt.wantGenerated, generated)
		})
	}
}
