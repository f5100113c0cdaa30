package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20MetadataABI)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("chain: bad embedded ABI: %v", err))
	}
	return parsed
}

// parseTransferLog decodes a raw log into a TransferEvent. Returns false for
// logs that are not well-formed ERC-20 Transfer events or were removed by a
// chain reorg.
func parseTransferLog(networkID string, lg types.Log) (TransferEvent, bool) {
	if lg.Removed {
		return TransferEvent{}, false
	}
	if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
		return TransferEvent{}, false
	}
	from := common.BytesToAddress(lg.Topics[1].Bytes())
	to := common.BytesToAddress(lg.Topics[2].Bytes())
	return TransferEvent{
		NetworkID: networkID,
		Token:     strings.ToLower(lg.Address.Hex()),
		From:      strings.ToLower(from.Hex()),
		To:        strings.ToLower(to.Hex()),
		Amount:    new(big.Int).SetBytes(lg.Data),
		TxHash:    lg.TxHash.Hex(),
		Block:     lg.BlockNumber,
	}, true
}
