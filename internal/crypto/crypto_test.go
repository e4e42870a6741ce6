package crypto

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestCallSignerRoundTrip(t *testing.T) {
	signer, err := NewCallSigner(testKeyHex)
	require.NoError(t, err)

	body := []byte(`{"caller":"` + signer.Address().Hex() + `","allowance":1000000}`)
	ts := time.Now().Unix()

	sig, err := signer.SignCall(ts, body)
	require.NoError(t, err)

	recovered, err := RecoverCallSigner(ts, body, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestRecoverRejectsTamperedBody(t *testing.T) {
	signer, err := NewCallSigner("0x" + testKeyHex)
	require.NoError(t, err)

	ts := time.Now().Unix()
	sig, err := signer.SignCall(ts, []byte(`{"amount":1}`))
	require.NoError(t, err)

	recovered, err := RecoverCallSigner(ts, []byte(`{"amount":2}`), sig)
	if err == nil {
		assert.NotEqual(t, signer.Address(), recovered)
	}
}

func TestRecoverRejectsShortSignature(t *testing.T) {
	_, err := RecoverCallSigner(0, []byte("x"), "0xdeadbeef")
	require.Error(t, err)
}

func TestRequestAuthVerify(t *testing.T) {
	auth := &RequestAuth{Key: "ops", Secret: "s3cret"}
	headers := auth.HeadersAt(http.MethodPost, "/api/admin/pause", `{"caller":"0x1"}`, time.Now().Unix())

	req := SignedRequest{
		Key:       headers["X-Admin-Key"],
		Timestamp: headers["X-Admin-Timestamp"],
		Signature: headers["X-Admin-Signature"],
		Method:    http.MethodPost,
		Path:      "/api/admin/pause",
		Body:      `{"caller":"0x1"}`,
	}
	require.NoError(t, auth.Verify(req, time.Minute))

	tampered := req
	tampered.Body = `{"caller":"0x2"}`
	assert.Error(t, auth.Verify(tampered, time.Minute))

	wrongKey := req
	wrongKey.Key = "other"
	assert.Error(t, auth.Verify(wrongKey, time.Minute))
}

func TestRequestAuthRejectsStaleTimestamp(t *testing.T) {
	auth := &RequestAuth{Key: "ops", Secret: "s3cret"}
	headers := auth.HeadersAt(http.MethodGet, "/api/admin/params", "", time.Now().Add(-time.Hour).Unix())

	err := auth.Verify(SignedRequest{
		Key:       headers["X-Admin-Key"],
		Timestamp: headers["X-Admin-Timestamp"],
		Signature: headers["X-Admin-Signature"],
		Method:    http.MethodGet,
		Path:      "/api/admin/params",
	}, time.Minute)
	require.Error(t, err)
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "password123")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "password123")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestLoadKeyPrefersRaw(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
