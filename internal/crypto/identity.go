// Package crypto authenticates participants by EIP-191 personal signatures
// over a canonical request message.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

// RequestMessage is the text a participant signs to authorize a request:
//
//	<METHOD> <PATH>\n<unix seconds>\n<nonce>\n<hex keccak256(body)>
//
// The nonce is chosen by the client and accepted once per participant.
func RequestMessage(method, path string, timestamp int64, nonce string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(ethcrypto.Keccak256(body)))
	return []byte(b.String())
}

// Recover returns the address that produced the personal signature sigHex
// over message. V may be 0/1 or 27/28.
func Recover(message []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto: signature is %d bytes, want %d", len(sig), ethcrypto.SignatureLength)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sigHex over message was produced by want.
func Verify(want common.Address, message []byte, sigHex string) error {
	got, err := Recover(message, sigHex)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s, not %s", domain.ErrUnauthorized, got.Hex(), want.Hex())
	}
	return nil
}

// Signer produces personal signatures with a local key. Command-line clients
// and tests use it to sign requests.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return FromKey(key), nil
}

// FromKey wraps an existing key.
func FromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address { return s.address }

// Sign returns the 0x-prefixed personal signature of message with V in
// {27,28}.
func (s *Signer) Sign(message []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
