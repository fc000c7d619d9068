// Package wallet recovers and checks the address behind an Ethereum
// personal_sign (EIP-191) signature.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrSignatureMismatch  = errors.New("signature does not match address")
	ErrInvalidAddress     = errors.New("invalid wallet address")
)

type Result struct {
	RecoveredAddress string
}

// Verifier is satisfied by PersonalSign. The orchestrator depends on the
// interface so tests can swap in a fixed result.
type Verifier interface {
	Verify(message string, signature []byte, claimedAddress string) (Result, error)
}

type PersonalSign struct{}

func (PersonalSign) Verify(message string, signature []byte, claimedAddress string) (Result, error) {
	return Verify(message, signature, claimedAddress)
}

// Verify recovers the signer of message and compares it to claimedAddress
// without regard to hex casing.
func Verify(message string, signature []byte, claimedAddress string) (Result, error) {
	claimed, err := NormalizeAddress(claimedAddress)
	if err != nil {
		return Result{}, err
	}
	recovered, err := Recover(message, signature)
	if err != nil {
		return Result{}, err
	}
	if recovered != claimed {
		return Result{}, ErrSignatureMismatch
	}
	return Result{RecoveredAddress: recovered}, nil
}

// Recover returns the lowercase address that produced signature over the
// EIP-191 prefixed hash of message. V may be 0/1 or 27/28.
func Recover(message string, signature []byte) (string, error) {
	if len(signature) != crypto.SignatureLength {
		return "", ErrMalformedSignature
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return "", ErrMalformedSignature
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// NormalizeAddress validates a 20-byte hex address and returns it
// lowercased with a 0x prefix.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// Checksum returns the EIP-55 mixed-case form of address.
func Checksum(address string) string {
	return common.HexToAddress(address).Hex()
}

// DecodeSignature parses a hex signature with or without the 0x prefix.
func DecodeSignature(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		value = "0x" + value
	}
	sig, err := hexutil.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, ErrMalformedSignature
	}
	return sig, nil
}
