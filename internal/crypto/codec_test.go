package crypto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec("unit-test-secret")
	require.NoError(t, err)
	require.True(t, codec.Enabled())
	return codec
}

func TestCodecRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	inputs := [][]byte{
		{},
		[]byte("hello"),
		[]byte("Grüße, 世界 👋"),
		{0x00, 0xff, 0x10, 0x80, 0x00},
		bytes.Repeat([]byte("x"), 8192),
	}

	for _, input := range inputs {
		envelope, err := codec.Encrypt(input)
		require.NoError(t, err)

		output, err := codec.Decrypt(envelope)
		require.NoError(t, err)
		require.Equal(t, input, output)
	}
}

func TestCodecSealOpenUsesJSONEnvelope(t *testing.T) {
	codec := newTestCodec(t)

	stored, err := codec.Seal("secret text")
	require.NoError(t, err)
	require.NotContains(t, stored, "secret text")

	var envelope Envelope
	require.NoError(t, json.Unmarshal([]byte(stored), &envelope))
	require.NotEmpty(t, envelope.IV)
	require.NotEmpty(t, envelope.Tag)

	plain, err := codec.Open(stored)
	require.NoError(t, err)
	require.Equal(t, "secret text", plain)

	empty, err := codec.Seal("")
	require.NoError(t, err)
	plain, err = codec.Open(empty)
	require.NoError(t, err)
	require.Equal(t, "", plain)
}

func TestCodecUsesFreshNonce(t *testing.T) {
	codec := newTestCodec(t)

	first, err := codec.Encrypt([]byte("same"))
	require.NoError(t, err)
	second, err := codec.Encrypt([]byte("same"))
	require.NoError(t, err)
	require.NotEqual(t, first.IV, second.IV)
}

func TestCodecDetectsTampering(t *testing.T) {
	codec := newTestCodec(t)

	envelope, err := codec.Encrypt([]byte("payload"))
	require.NoError(t, err)

	raw, err := hex.DecodeString(envelope.Content)
	require.NoError(t, err)
	raw[0] ^= 0x01
	envelope.Content = hex.EncodeToString(raw)

	_, err = codec.Decrypt(envelope)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestCodecRejectsMalformedInput(t *testing.T) {
	codec := newTestCodec(t)

	_, err := codec.Open("not json")
	require.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = codec.Decrypt(Envelope{IV: "zz", Content: "", Tag: ""})
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestCodecWithoutKeyRefusesToEncrypt(t *testing.T) {
	codec, err := NewCodec("   ")
	require.NoError(t, err)
	require.False(t, codec.Enabled())

	_, err = codec.Seal("hello")
	require.ErrorIs(t, err, ErrKeyUnavailable)

	_, err = codec.Open(`{"iv":"00","content":"","tag":"00"}`)
	require.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestCodecKeysAreNotInterchangeable(t *testing.T) {
	first, err := NewCodec("key-one")
	require.NoError(t, err)
	second, err := NewCodec("key-two")
	require.NoError(t, err)

	stored, err := first.Seal("private")
	require.NoError(t, err)

	_, err = second.Open(stored)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestCodecAcceptsRawHexKey(t *testing.T) {
	rawKey := strings.Repeat("ab", keySize)
	codec, err := NewCodec(rawKey)
	require.NoError(t, err)

	again, err := NewCodec(rawKey)
	require.NoError(t, err)

	stored, err := codec.Seal("shared")
	require.NoError(t, err)
	plain, err := again.Open(stored)
	require.NoError(t, err)
	require.Equal(t, "shared", plain)
}
