// Package venue implements the local venue's REST and WebSocket clients:
// the single out-of-band signing key, atomic batch submission over REST,
// and a WS transport shared by the orderbook and account streams.
package venue

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"perpmm/internal/config"
)

// Signer holds the single signing key the agent uses to authorize atomic
// submissions to the local venue. Unlike the two-layer L1/L2 scheme some
// venues use, there is exactly one key here and it never leaves the
// process except as a signature.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	accountID  string
	chainID    *big.Int
}

// NewSigner builds a Signer from config. The signing key is expected as
// hex, with or without a 0x prefix.
func NewSigner(cfg config.WalletConfig) (*Signer, error) {
	keyHex := cfg.SigningKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	pk, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	address := crypto.PubkeyToAddress(pk.PublicKey)
	accountID := cfg.AccountID
	if accountID == "" {
		accountID = address.Hex()
	}

	return &Signer{
		privateKey: pk,
		address:    address,
		accountID:  accountID,
		chainID:    big.NewInt(int64(cfg.ChainID)),
	}, nil
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address { return s.address }

// AccountID returns the account identifier the venue should look fills
// up under.
func (s *Signer) AccountID() string { return s.accountID }

// SignAtomicSubmission signs an EIP-712 typed-data message authorizing one
// chunk of atomic actions. The signed message binds the account, the
// chunk's fingerprint, and the nonce; the actions themselves are not part
// of the signed message.
func (s *Signer) SignAtomicSubmission(fingerprint string, nonce int64) (string, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"AtomicSubmission": {
				{Name: "account", Type: "address"},
				{Name: "fingerprint", Type: "string"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "AtomicSubmission",
		Domain: apitypes.TypedDataDomain{
			Name:    "PerpMMAgent",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(s.chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"account":     s.address.Hex(),
			"fingerprint": fingerprint,
			"nonce":       fmt.Sprintf("%d", nonce),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}
