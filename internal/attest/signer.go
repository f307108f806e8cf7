// Package attest signs deterministic score outputs with a managed secp256k1
// key and verifies such signatures via standard message-signing recovery.
// A valid signature proves a score was produced by this code path; it says
// nothing about the truthfulness of the inputs.
package attest

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const signatureLength = 65 // r (32) || s (32) || v (1)

// Signer holds the managed signing key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex-encoded secp256k1 private key.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the signer's public address.
func (s *Signer) Address() common.Address { return s.address }

// SignMessage signs the EIP-191 personal-message hash of message and returns
// the 65-byte signature as 0x-hex with v in {27, 28}.
func (s *Signer) SignMessage(message []byte) (string, error) {
	sig, err := crypto.Sign(personalHash(message), s.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	if sig[signatureLength-1] < 27 {
		sig[signatureLength-1] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner recovers the address that produced sigHex over message.
func RecoverSigner(message []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != signatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", signatureLength, len(sig))
	}
	// crypto.SigToPub expects the recovery id in {0, 1}.
	recovered := make([]byte, signatureLength)
	copy(recovered, sig)
	if recovered[signatureLength-1] >= 27 {
		recovered[signatureLength-1] -= 27
	}
	pub, err := crypto.SigToPub(personalHash(message), recovered)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sigHex over message recovers to signer.
func Verify(message []byte, sigHex string, signer common.Address) bool {
	recovered, err := RecoverSigner(message, sigHex)
	if err != nil {
		return false
	}
	return recovered == signer
}

// personalHash computes the EIP-191 prefixed keccak hash of message.
func personalHash(message []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}
