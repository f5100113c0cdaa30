package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"log/slog"

	coreconfig "github.com/0xBitWishper/buybots/core/config"
	"github.com/0xBitWishper/buybots/core/logger"
)

const resolveTimeout = 10 * time.Second

// EVM implements Client over go-ethereum websocket endpoints. One dialed
// client is kept per configured network and shared by all subscriptions.
type EVM struct {
	networks map[string]coreconfig.NetworkConfig

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewEVM builds a client for the configured networks. Connections are dialed
// lazily on first use.
func NewEVM(networks []coreconfig.NetworkConfig) *EVM {
	byID := make(map[string]coreconfig.NetworkConfig, len(networks))
	for _, n := range networks {
		byID[n.ID] = n
	}
	return &EVM{
		networks: byID,
		clients:  make(map[string]*ethclient.Client),
	}
}

func (e *EVM) client(ctx context.Context, networkID string) (*ethclient.Client, error) {
	net, ok := e.networks[networkID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, networkID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cl, ok := e.clients[networkID]; ok {
		return cl, nil
	}

	start := time.Now()
	cl, err := ethclient.DialContext(ctx, net.RPCURL)
	if err != nil {
		logger.Chain.Error("rpc dial failed",
			slog.String("event", "dial"),
			slog.String("network", networkID),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("chain: dial %s: %w", networkID, err)
	}
	logger.Chain.Info("rpc connected",
		slog.String("event", "dial"),
		slog.String("network", networkID),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	e.clients[networkID] = cl
	return cl, nil
}

// ResolveToken validates the address and reads name, symbol and decimals
// from the contract. A contract that does not answer decimals is rejected;
// missing name or symbol fall back to an elided address.
func (e *EVM) ResolveToken(ctx context.Context, networkID, address string) (TokenInfo, error) {
	if !common.IsHexAddress(address) {
		return TokenInfo{}, fmt.Errorf("%w: %q", ErrBadAddress, address)
	}
	cl, err := e.client(ctx, networkID)
	if err != nil {
		return TokenInfo{}, err
	}

	addr := common.HexToAddress(address)
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	var decimals uint8
	if err := e.callUint8(ctx, cl, addr, "decimals", &decimals); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %s: %v", ErrNotToken, address, err)
	}

	info := TokenInfo{
		Address:  strings.ToLower(addr.Hex()),
		Decimals: decimals,
	}
	if err := e.callString(ctx, cl, addr, "name", &info.Name); err != nil {
		info.Name = ShortAddress(info.Address)
	}
	if err := e.callString(ctx, cl, addr, "symbol", &info.Symbol); err != nil {
		info.Symbol = "???"
	}

	logger.Chain.Debug("token resolved",
		slog.String("event", "resolve"),
		slog.String("network", networkID),
		slog.String("address", info.Address),
		slog.String("symbol", info.Symbol),
		slog.Int("decimals", int(decimals)),
	)
	return info, nil
}

func (e *EVM) callString(ctx context.Context, cl *ethclient.Client, addr common.Address, method string, out *string) error {
	raw, err := e.call(ctx, cl, addr, method)
	if err != nil {
		return err
	}
	vals, err := erc20ABI.Unpack(method, raw)
	if err != nil || len(vals) != 1 {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	s, ok := vals[0].(string)
	if !ok || s == "" {
		return fmt.Errorf("empty %s", method)
	}
	*out = s
	return nil
}

func (e *EVM) callUint8(ctx context.Context, cl *ethclient.Client, addr common.Address, method string, out *uint8) error {
	raw, err := e.call(ctx, cl, addr, method)
	if err != nil {
		return err
	}
	vals, err := erc20ABI.Unpack(method, raw)
	if err != nil || len(vals) != 1 {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return fmt.Errorf("unexpected %s type", method)
	}
	*out = v
	return nil
}

func (e *EVM) call(ctx context.Context, cl *ethclient.Client, addr common.Address, method string) ([]byte, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := cl.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no return data for %s", method)
	}
	return raw, nil
}

// SubscribeTransfers opens a live log subscription filtered to the Transfer
// topic of one contract. The returned stream owns a pump goroutine that
// decodes raw logs until Unsubscribe is called or the upstream fails.
func (e *EVM) SubscribeTransfers(ctx context.Context, networkID, address string) (Stream, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrBadAddress, address)
	}
	cl, err := e.client(ctx, networkID)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(address)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{transferTopic}},
	}
	logsCh := make(chan types.Log, 64)
	sub, err := cl.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		logger.Chain.Error("log subscription failed",
			slog.String("event", "subscribe"),
			slog.String("network", networkID),
			slog.String("address", strings.ToLower(addr.Hex())),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("chain: subscribe %s on %s: %w", address, networkID, err)
	}

	s := &logStream{
		networkID: networkID,
		address:   strings.ToLower(addr.Hex()),
		sub:       sub,
		logs:      logsCh,
		events:    make(chan TransferEvent, 64),
		errs:      make(chan error, 1),
		stop:      make(chan struct{}),
	}
	go s.pump()

	logger.Chain.Info("log subscription opened",
		slog.String("event", "subscribe"),
		slog.String("network", networkID),
		slog.String("address", s.address),
	)
	return s, nil
}

type logStream struct {
	networkID string
	address   string
	sub       ethereum.Subscription
	logs      chan types.Log
	events    chan TransferEvent
	errs      chan error

	stopOnce sync.Once
	stop     chan struct{}
}

func (s *logStream) pump() {
	defer close(s.events)
	defer close(s.errs)
	for {
		select {
		case <-s.stop:
			return
		case err := <-s.sub.Err():
			if err != nil {
				logger.Chain.Warn("log subscription lost",
					slog.String("event", "stream.err"),
					slog.String("network", s.networkID),
					slog.String("address", s.address),
					slog.String("err", err.Error()),
				)
				s.errs <- err
			}
			return
		case lg := <-s.logs:
			evt, ok := parseTransferLog(s.networkID, lg)
			if !ok {
				continue
			}
			evt.ObservedAt = time.Now().UTC()
			select {
			case s.events <- evt:
			case <-s.stop:
				return
			}
		}
	}
}

// Unsubscribe tears the subscription down and waits for the pump to exit, so
// no event is delivered after it returns.
func (s *logStream) Unsubscribe() {
	s.stopOnce.Do(func() {
		s.sub.Unsubscribe()
		close(s.stop)
	})
	// drain until the pump closes the channel
	for range s.events {
	}
}

func (s *logStream) Events() <-chan TransferEvent { return s.events }
func (s *logStream) Err() <-chan error            { return s.errs }

// Close releases all dialed RPC connections.
func (e *EVM) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cl := range e.clients {
		cl.Close()
		delete(e.clients, id)
	}
}

// ShortAddress elides an address to its first six and last four characters.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
