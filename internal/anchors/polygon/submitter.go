// Package polygon anchors witness hashes on Polygon PoS: a self-send
// transaction carrying the hash as calldata, then receipt polling until the
// transaction lands in a block.
package polygon

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"custodia/internal/anchors"
)

// RPC is the slice of ethclient.Client the submitter and poller use.
type RPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Submitter publishes a witness hash as calldata in a zero-value self-send.
type Submitter struct {
	rpc RPC
	key *ecdsa.PrivateKey
}

func NewSubmitter(rpc RPC, privateKeyHex string) (*Submitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse polygon private key: %w", err)
	}
	return &Submitter{rpc: rpc, key: key}, nil
}

// anchorTxGasLimit covers a plain transfer plus 32 bytes of calldata.
const anchorTxGasLimit = 30000

func (s *Submitter) Submit(ctx context.Context, witnessHash string) (*anchors.Submission, error) {
	payload, err := hex.DecodeString(strings.TrimPrefix(witnessHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("witness hash is not hex: %w", err)
	}

	from := crypto.PubkeyToAddress(s.key.PublicKey)
	chainID, err := s.rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := s.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := s.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, from, big.NewInt(0), anchorTxGasLimit, gasPrice, payload)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return &anchors.Submission{TxID: signed.Hash().Hex()}, nil
}
