package evmchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// transferWithAuthorizationABI is the EIP-3009 function signature the
// settler invokes once a signature has been verified off-chain.
var transferWithAuthorizationABI = []byte(`[
	{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "validAfter", "type": "uint256"},
			{"name": "validBefore", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "transferWithAuthorization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

var balanceOfABI = []byte(`[
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// Adapter wraps one RPC connection to a network and performs the on-chain
// operations a settler needs: balance reads, transferWithAuthorization
// submission, and receipt polling.
type Adapter struct {
	client     *ethclient.Client
	chainID    *big.Int
	privateKey operatorKey
}

// operatorKey is the minimal signing capability the adapter needs from the
// facilitator's operating key, kept as an interface so a KMS-backed signer
// can stand in for a raw ecdsa.PrivateKey without this package depending on
// a particular key-custody mechanism.
type operatorKey interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// NewAdapter connects to rpcURL for the given chain ID.
func NewAdapter(ctx context.Context, rpcURL string, chainID *big.Int, key operatorKey) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &Adapter{client: client, chainID: chainID, privateKey: key}, nil
}

// GetBalance reads the ERC-20 balance of address in the given token.
func (a *Adapter) GetBalance(ctx context.Context, tokenAddress, holder string) (*big.Int, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(balanceOfABI)))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	data, err := contractABI.Pack("balanceOf", common.HexToAddress(holder))
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	token := common.HexToAddress(tokenAddress)
	result, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	outputs, err := contractABI.Unpack("balanceOf", result)
	if err != nil || len(outputs) == 0 {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type")
	}
	return balance, nil
}

// SubmitAuthorization calls transferWithAuthorization on tokenAddress with a
// signature already split into (v, r, s) by the caller, and returns the
// submitted transaction hash.
func (a *Adapter) SubmitAuthorization(
	ctx context.Context,
	tokenAddress, from, to string,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	v uint8,
	r, s [32]byte,
) (string, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(transferWithAuthorizationABI)))
	if err != nil {
		return "", fmt.Errorf("parse abi: %w", err)
	}
	data, err := contractABI.Pack("transferWithAuthorization",
		common.HexToAddress(from), common.HexToAddress(to), value, validAfter, validBefore, nonce, v, r, s)
	if err != nil {
		return "", fmt.Errorf("pack transferWithAuthorization: %w", err)
	}

	nonceAt, err := a.client.PendingNonceAt(ctx, a.privateKey.Address())
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	tip, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		tip = big.NewInt(100_000_000) // 0.1 gwei fallback
	}
	head, err := a.client.HeaderByNumber(ctx, nil)
	baseFee := big.NewInt(1_000_000_000)
	if err == nil && head.BaseFee != nil {
		baseFee = head.BaseFee
	}
	maxFee := new(big.Int).Add(new(big.Int).Mul(big.NewInt(2), baseFee), tip)

	token := common.HexToAddress(tokenAddress)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonceAt,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       120_000,
		To:        &token,
		Data:      data,
	})

	signedTx, err := a.privateKey.SignTx(tx, a.chainID)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// Receipt is the on-chain outcome of a submitted transaction.
type Receipt struct {
	Status      uint64
	BlockNumber uint64
	TxHash      string
	GasUsed     uint64
}

// WaitForReceipt polls for a transaction's receipt until ctx ends.
func (a *Adapter) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	hash := common.HexToHash(txHash)
	for {
		receipt, err := a.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Receipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("get receipt: %w", err)
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, fmt.Errorf("get receipt: %w", ctx.Err())
		}
	}
}

// EstimateGas simulates transferWithAuthorization to estimate gas cost,
// backing the facilitator's /estimate-gas endpoint.
func (a *Adapter) EstimateGas(
	ctx context.Context,
	tokenAddress, from, to string,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	v uint8,
	r, s [32]byte,
) (uint64, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(transferWithAuthorizationABI)))
	if err != nil {
		return 0, fmt.Errorf("parse abi: %w", err)
	}
	data, err := contractABI.Pack("transferWithAuthorization",
		common.HexToAddress(from), common.HexToAddress(to), value, validAfter, validBefore, nonce, v, r, s)
	if err != nil {
		return 0, fmt.Errorf("pack transferWithAuthorization: %w", err)
	}
	token := common.HexToAddress(tokenAddress)
	fromAddr := common.HexToAddress(from)
	gas, err := a.client.EstimateGas(ctx, ethereum.CallMsg{From: fromAddr, To: &token, Data: data})
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}
