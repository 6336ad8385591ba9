package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptorRoundTrip(t *testing.T) {
	e, err := NewEncryptor("operator-passphrase")
	require.NoError(t, err)

	sealed, err := e.Seal([]byte("-----BEGIN CERTIFICATE-----"))
	require.NoError(t, err)
	require.NotEmpty(t, sealed)

	opened, err := e.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("-----BEGIN CERTIFICATE-----"), opened)
}

func TestEncryptorEmptyPassphrase(t *testing.T) {
	_, err := NewEncryptor("")
	assert.Error(t, err)
}

func TestEncryptorNonceUniqueness(t *testing.T) {
	e, err := NewEncryptor("operator-passphrase")
	require.NoError(t, err)

	a, err := e.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := e.Seal([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncryptorWrongKeyFails(t *testing.T) {
	e1, err := NewEncryptor("passphrase-one")
	require.NoError(t, err)
	e2, err := NewEncryptor("passphrase-two")
	require.NoError(t, err)

	sealed, err := e1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = e2.Open(sealed)
	assert.Error(t, err)
}

func TestEncryptorTamperDetected(t *testing.T) {
	e, err := NewEncryptor("operator-passphrase")
	require.NoError(t, err)

	sealed, err := e.Seal([]byte("secret"))
	require.NoError(t, err)

	tampered := "A" + sealed[1:]
	if tampered == sealed {
		tampered = "B" + sealed[1:]
	}
	_, err = e.Open(tampered)
	assert.Error(t, err)
}

func TestEncryptorJSONRoundTrip(t *testing.T) {
	e, err := NewEncryptor("operator-passphrase")
	require.NoError(t, err)

	type blob struct {
		CUIT string `json:"cuit"`
		Key  string `json:"key"`
	}

	sealed, err := e.SealJSON(blob{CUIT: "20123456789", Key: "pem"})
	require.NoError(t, err)

	var out blob
	require.NoError(t, e.OpenJSON(sealed, &out))
	assert.Equal(t, "20123456789", out.CUIT)
	assert.Equal(t, "pem", out.Key)
}
