package cryptox

import (
	"crypto/x509"
	"encoding/pem"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var unreserved = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantLen int
	}{
		{"128-bit token", TokenSize128, 22},
		{"256-bit token", TokenSize256, 43},
		{"512-bit token", TokenSize512, 86},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.Len(t, token, tt.wantLen)
			require.Regexp(t, unreserved, token)

			token2, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.NotEqual(t, token, token2, "tokens should be unique")
		})
	}
}

func TestGenerateToken_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		token, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, token)
	}
}

func TestStateAndNonce(t *testing.T) {
	state, err := NewState()
	require.NoError(t, err)
	nonce, err := NewNonce()
	require.NoError(t, err)

	require.NotEqual(t, state, nonce)
	require.Regexp(t, unreserved, state)
}

func TestFingerprintToken(t *testing.T) {
	fp1a := FingerprintToken("test-token-1")
	fp1b := FingerprintToken("test-token-1")
	fp2 := FingerprintToken("test-token-2")

	require.Equal(t, fp1a, fp1b, "fingerprint should be deterministic")
	require.NotEqual(t, fp1a, fp2)
	require.Len(t, fp1a, 43, "SHA-256 base64url should be 43 chars")
}

func TestEqual(t *testing.T) {
	require.True(t, Equal("abc", "abc"))
	require.False(t, Equal("abc", "abd"))
	require.False(t, Equal("abc", "abcd"))
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewAESGCMSealer([]byte("test-master-key-for-encryption-12345"))
	require.NoError(t, err)

	secret := []byte("client-secret-value")
	sealed1, err := s.Seal(secret)
	require.NoError(t, err)
	sealed2, err := s.Seal(secret)
	require.NoError(t, err)

	// Random nonces mean the same plaintext never seals the same way twice
	require.NotEqual(t, sealed1, sealed2)
	require.NotContains(t, string(sealed1), string(secret))

	opened, err := s.Open(sealed1)
	require.NoError(t, err)
	require.Equal(t, secret, opened)
}

func TestSealerRejectsTampering(t *testing.T) {
	s, err := NewAESGCMSealer([]byte("key-one"))
	require.NoError(t, err)
	other, err := NewAESGCMSealer([]byte("key-two"))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = other.Open(sealed)
	require.Error(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.Open(sealed)
	require.Error(t, err)

	_, err = s.Open([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrSealedTooShort)

	_, err = NewAESGCMSealer(nil)
	require.Error(t, err)
}

func TestSelfSignedCertificate(t *testing.T) {
	keyPEM, err := GenerateRSAKey(2048)
	require.NoError(t, err)

	certPEM, err := SelfSignedCertificate(keyPEM, "graphauth-test", time.Hour)
	require.NoError(t, err)

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	require.Equal(t, "graphauth-test", cert.Subject.CommonName)

	_, err = GenerateRSAKey(1024)
	require.Error(t, err)
}
