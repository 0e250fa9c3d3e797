package e2e

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairedKeys(t *testing.T) (*SessionKey, *SessionKey) {
	t.Helper()
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	aliceHex, err := alice.PublicKeyHex()
	require.NoError(t, err)
	bobHex, err := bob.PublicKeyHex()
	require.NoError(t, err)

	aliceKey, err := alice.DeriveSessionKey(bobHex)
	require.NoError(t, err)
	bobKey, err := bob.DeriveSessionKey(aliceHex)
	require.NoError(t, err)
	return aliceKey, bobKey
}

func TestRoundTripBetweenDerivedKeys(t *testing.T) {
	aliceKey, bobKey := pairedKeys(t)

	ct, iv, err := aliceKey.Encrypt("hello bob")
	require.NoError(t, err)
	assert.Len(t, iv, NonceSize*2)

	plain, err := bobKey.Decrypt(ct, iv)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", plain)

	ct, iv, err = bobKey.Encrypt("")
	require.NoError(t, err)
	plain, err = aliceKey.Decrypt(ct, iv)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestEncryptUsesFreshIV(t *testing.T) {
	key, _ := pairedKeys(t)
	ct1, iv1, err := key.Encrypt("same")
	require.NoError(t, err)
	ct2, iv2, err := key.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, iv1, iv2)
	assert.NotEqual(t, ct1, ct2)
}

func TestDecryptRejectsTampering(t *testing.T) {
	aliceKey, bobKey := pairedKeys(t)
	ct, iv, err := aliceKey.Encrypt("secret")
	require.NoError(t, err)

	raw, _ := hex.DecodeString(ct)
	raw[0] ^= 0xff
	_, err = bobKey.Decrypt(hex.EncodeToString(raw), iv)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = bobKey.Decrypt("zz", iv)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = bobKey.Decrypt(ct, "abcd")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestThirdPartyCannotDecrypt(t *testing.T) {
	aliceKey, _ := pairedKeys(t)
	eveKey, _ := pairedKeys(t)

	ct, iv, err := aliceKey.Encrypt("not for eve")
	require.NoError(t, err)
	_, err = eveKey.Decrypt(ct, iv)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestImportPublicKeyRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not-hex", "deadbeef"} {
		_, err := ImportPublicKey(in)
		assert.ErrorIs(t, err, ErrInvalidPublicKey, "input %q", in)
	}
}

func TestImportPublicKeyRejectsOtherCurves(t *testing.T) {
	priv, err := ecdh.P384().GenerateKey(rand.Reader)
	require.NoError(t, err)
	kp := &KeyPair{private: priv}
	hexKey, err := kp.PublicKeyHex()
	require.NoError(t, err)

	_, err = ImportPublicKey(hexKey)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestPublicKeyHexIsSPKI(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	hexKey, err := kp.PublicKeyHex()
	require.NoError(t, err)

	pub, err := ImportPublicKey(hexKey)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(kp.private.PublicKey().Bytes(), pub.Bytes()))
	// SPKI DER for an uncompressed P-256 point is 91 bytes.
	assert.Len(t, hexKey, 91*2)
}
