package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// callMessage builds the canonical EIP-191 personal message a client signs
// to authenticate a state-changing request. Binding the timestamp bounds the
// replay window; binding the body binds the caller and arguments.
func callMessage(unixTS int64, body []byte) []byte {
	payload := strconv.FormatInt(unixTS, 10) + string(body)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(payload), payload)
	return ethcrypto.Keccak256([]byte(prefixed))
}

// CallSigner signs request bodies with an account private key so the server
// can verify that the caller named in the request controls that account.
type CallSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewCallSigner parses a hex-encoded secp256k1 private key.
func NewCallSigner(privateKeyHex string) (*CallSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &CallSigner{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the account address derived from the signing key.
func (s *CallSigner) Address() common.Address {
	return s.address
}

// SignCall signs the request body at the given timestamp and returns the
// 65-byte signature hex-encoded.
func (s *CallSigner) SignCall(unixTS int64, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(callMessage(unixTS, body), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign call: %w", err)
	}
	// Shift V to the Ethereum convention (27/28).
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}

// RecoverCallSigner recovers the account that produced sigHex over the given
// timestamp and body. Both V conventions (0/1 and 27/28) are accepted.
func RecoverCallSigner(unixTS int64, body []byte, sigHex string) (common.Address, error) {
	raw := common.FromHex(sigHex)
	if len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(raw))
	}
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(callMessage(unixTS, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
