package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return FromKey(key)
}

func TestRequestMessage(t *testing.T) {
	msg := RequestMessage("post", "/api/polls/p1/vote", 1767225600, "n-1", []byte(`{"option":1}`))
	lines := strings.Split(string(msg), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "POST /api/polls/p1/vote", lines[0])
	assert.Equal(t, "1767225600", lines[1])
	assert.Equal(t, "n-1", lines[2])
	assert.Equal(t, hex.EncodeToString(ethcrypto.Keccak256([]byte(`{"option":1}`))), lines[3])
}

func TestSignAndRecover(t *testing.T) {
	s := newTestSigner(t)
	msg := RequestMessage("POST", "/api/polls", 42, "n-1", []byte("{}"))

	sig, err := s.Sign(msg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "0x"))

	got, err := Recover(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)
	require.NoError(t, Verify(s.Address(), msg, sig))

	raw, _ := hex.DecodeString(sig[2:])
	raw[64] -= 27
	got, err = Recover(msg, hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got, "V in {0,1} is accepted")
}

func TestVerifyRejects(t *testing.T) {
	s := newTestSigner(t)
	other := newTestSigner(t)
	msg := RequestMessage("POST", "/api/polls", 42, "n-1", []byte("{}"))
	sig, err := s.Sign(msg)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify(other.Address(), msg, sig), domain.ErrUnauthorized)

	tampered := RequestMessage("POST", "/api/polls", 43, "n-1", []byte("{}"))
	assert.ErrorIs(t, Verify(s.Address(), tampered, sig), domain.ErrUnauthorized)

	renonced := RequestMessage("POST", "/api/polls", 42, "n-2", []byte("{}"))
	assert.ErrorIs(t, Verify(s.Address(), renonced, sig), domain.ErrUnauthorized)

	assert.ErrorIs(t, Verify(s.Address(), msg, "0x1234"), domain.ErrUnauthorized)
	assert.ErrorIs(t, Verify(s.Address(), msg, "zz"), domain.ErrUnauthorized)
}

func TestNewSigner(t *testing.T) {
	s, err := NewSigner("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address().Hex())

	_, err = NewSigner("not-a-key")
	assert.Error(t, err)
}
