package chain

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	// ErrBadAddress means the supplied contract address is not valid hex.
	ErrBadAddress = errors.New("chain: invalid contract address")
	// ErrUnknownNetwork means the network id has no configuration.
	ErrUnknownNetwork = errors.New("chain: unknown network")
	// ErrNotToken means the contract does not answer the ERC-20 metadata calls.
	ErrNotToken = errors.New("chain: contract is not an ERC-20 token")
)

// TokenInfo is the on-chain metadata of an ERC-20 token.
type TokenInfo struct {
	// Address in lowercase hex form.
	Address  string
	Name     string
	Symbol   string
	Decimals uint8
}

// TransferEvent is one decoded Transfer log.
type TransferEvent struct {
	NetworkID string
	// Token, From and To are lowercase hex addresses.
	Token  string
	From   string
	To     string
	Amount *big.Int
	TxHash string
	Block  uint64
	// ObservedAt is when the event was decoded, not the block timestamp.
	ObservedAt time.Time
}

// Stream is a live subscription to Transfer logs of one token contract.
// Events and Err are closed after Unsubscribe returns or the upstream
// subscription dies.
type Stream interface {
	Events() <-chan TransferEvent
	Err() <-chan error
	Unsubscribe()
}

// Client resolves token metadata and opens transfer streams.
type Client interface {
	ResolveToken(ctx context.Context, networkID, address string) (TokenInfo, error)
	SubscribeTransfers(ctx context.Context, networkID, address string) (Stream, error)
}
