// Package wallet implements a private-key-backed client.Signer/x402.SchemeClient:
// the EVM wallet the client payment engine signs payment authorizations with.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/x402-foundation/x402-core"
	"github.com/x402-foundation/x402-core/pkg/eip712"
	"github.com/x402-foundation/x402-core/pkg/evmchain"
)

const (
	maxNonceRedraws  = 100
	nonceGCThreshold = 10_000
	nonceGCKeep      = 5_000
	validAfterSkew   = 60 * time.Second
	defaultTimeout   = 60 * time.Second
)

// Wallet signs EIP-3009 transfer authorizations with an ECDSA private key,
// one Wallet per scheme it is willing to pay under. Grounded in the
// teacher's signers/evm.ClientSigner, narrowed to the one operation the
// client payment engine needs: producing a complete PaymentPayload.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    string
	scheme     x402.Scheme

	mu    sync.Mutex
	drawn map[string]struct{}
}

// NewWallet creates a Wallet for scheme from a hex-encoded ECDSA private key
// (with or without a "0x" prefix).
func NewWallet(privateKeyHex string, scheme x402.Scheme) (*Wallet, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Wallet{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		scheme:     scheme,
		drawn:      make(map[string]struct{}),
	}, nil
}

// Address returns the wallet's Ethereum address.
func (w *Wallet) Address() string { return w.address }

// Scheme implements client.Signer / x402.SchemeClient.
func (w *Wallet) Scheme() x402.Scheme { return w.scheme }

// CreatePaymentPayload signs an Authorization satisfying requirements: value
// equal to the required amount, a validity window starting 60s in the past
// (clock-skew tolerance) and ending requirements.MaxTimeoutSeconds from now,
// and a nonce this wallet has not drawn before.
func (w *Wallet) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (x402.PaymentPayload, error) {
	cfg, err := evmchain.GetNetworkConfig(requirements.Network)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	asset, err := evmchain.GetAsset(requirements.Network, requirements.Asset)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	nonce, err := w.drawNonce()
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	now := time.Now()
	timeout := time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	auth := x402.Authorization{
		From:        w.address,
		To:          requirements.PayTo,
		Value:       requirements.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(now.Add(-validAfterSkew).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(timeout).Unix(), 10),
		Nonce:       nonce,
	}

	domain := eip712.Domain{
		Name:              asset.Name,
		Version:           asset.Version,
		ChainID:           cfg.ChainID,
		VerifyingContract: asset.Address,
	}
	sig, err := eip712.Sign(domain, auth, w.privateKey)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("sign authorization: %w", err)
	}

	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload: x402.ExactPayload{
			Signature:     "0x" + hex.EncodeToString(sig),
			Authorization: auth,
		},
	}, nil
}

// drawNonce generates a random 32-byte nonce this wallet has not used
// before, redrawing on collision up to maxNonceRedraws times before giving
// up. The set of drawn nonces is garbage-collected once it exceeds
// nonceGCThreshold, keeping nonceGCKeep entries, so a long-lived wallet's
// memory doesn't grow unboundedly.
func (w *Wallet) drawNonce() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for attempt := 0; attempt < maxNonceRedraws; attempt++ {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate nonce: %w", err)
		}
		nonce := "0x" + hex.EncodeToString(buf)
		if _, used := w.drawn[nonce]; used {
			continue
		}
		w.drawn[nonce] = struct{}{}
		if len(w.drawn) > nonceGCThreshold {
			w.gcLocked()
		}
		return nonce, nil
	}
	return "", fmt.Errorf("failed to draw an unused nonce after %d attempts", maxNonceRedraws)
}

// gcLocked drops drawn nonces down to nonceGCKeep once the set exceeds
// nonceGCThreshold. Map iteration order is effectively random, so this keeps
// an arbitrary nonceGCKeep-sized subset rather than a true recency window;
// the only property that matters here is bounding memory growth, not which
// specific nonces survive.
func (w *Wallet) gcLocked() {
	if len(w.drawn) <= nonceGCKeep {
		return
	}
	kept := make(map[string]struct{}, nonceGCKeep)
	for k := range w.drawn {
		if len(kept) >= nonceGCKeep {
			break
		}
		kept[k] = struct{}{}
	}
	w.drawn = kept
}

var _ x402.SchemeClient = (*Wallet)(nil)
