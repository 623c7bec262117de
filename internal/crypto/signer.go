package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the operator's secp256k1 key and countersigns settlements.
// Receipts use the Ethereum personal-sign scheme so any standard wallet or
// library can verify them offline.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key (with
// or without 0x prefix).
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the operator address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SettlementMessage is the canonical receipt text signed at resolution.
// Verifiers rebuild it from the market's settled fields.
func SettlementMessage(marketID uint64, answer int, totalPool int64, resolvedAt time.Time) []byte {
	return []byte("marketledger settlement" +
		" market=" + strconv.FormatUint(marketID, 10) +
		" answer=" + strconv.Itoa(answer) +
		" pool=" + strconv.FormatInt(totalPool, 10) +
		" at=" + strconv.FormatInt(resolvedAt.Unix(), 10))
}

// SignSettlement signs the canonical settlement receipt for a resolved
// market and returns the hex-encoded 65-byte signature.
func (s *Signer) SignSettlement(marketID uint64, answer int, totalPool int64, resolvedAt time.Time) (string, error) {
	return s.SignMessage(SettlementMessage(marketID, answer, totalPool, resolvedAt))
}

// SignMessage signs an arbitrary message with the personal-sign prefix and
// returns the hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) SignMessage(message []byte) (string, error) {
	sig, err := ethcrypto.Sign(personalSignHash(message), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets expect v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// personalSignHash computes the EIP-191 personal-sign digest:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(message) || message)
func personalSignHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256(append([]byte(prefix), message...))
}
