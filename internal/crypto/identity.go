package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RecoverAddress recovers the Ethereum address that personal-signed the
// given message. The signature is the hex-encoded 65-byte r || s || v form
// produced by standard wallets.
func RecoverAddress(message []byte, signatureHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/identity: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/identity: expected 65-byte signature, got %d", len(sig))
	}

	// Wallets emit v in {27,28}; go-ethereum wants {0,1}.
	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(personalSignHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/identity: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether signatureHex over message was produced by
// the key behind the expected address.
func VerifySignature(message []byte, signatureHex string, expected common.Address) bool {
	recovered, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return false
	}
	return recovered == expected
}
