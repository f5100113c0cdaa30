package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferLog(from, to common.Address, amount *big.Int) types.Log {
	return types.Log{
		Address: common.HexToAddress("0xAbCdEF0123456789abcdef0123456789ABCDEF01"),
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(amount.Bytes(), 32),
		TxHash:      common.HexToHash("0x11"),
		BlockNumber: 123,
	}
}

func TestParseTransferLog(t *testing.T) {
	from := common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	amount := new(big.Int)
	amount.SetString("1234500000000000000", 10)

	evt, ok := parseTransferLog("bsc", transferLog(from, to, amount))
	require.True(t, ok)

	assert.Equal(t, "bsc", evt.NetworkID)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", evt.Token)
	assert.Equal(t, "0x10ed43c718714eb63d5aa57b78b54704e256024e", evt.From)
	assert.Equal(t, "0x000000000000000000000000000000000000dead", evt.To)
	assert.Zero(t, evt.Amount.Cmp(amount))
	assert.Equal(t, uint64(123), evt.Block)
}

func TestParseTransferLogRejectsWrongShape(t *testing.T) {
	from := common.HexToAddress("0x1")
	to := common.HexToAddress("0x2")

	lg := transferLog(from, to, big.NewInt(1))
	lg.Topics = lg.Topics[:2] // approval-style or malformed log
	_, ok := parseTransferLog("bsc", lg)
	assert.False(t, ok)

	lg = transferLog(from, to, big.NewInt(1))
	lg.Topics[0] = common.HexToHash("0xdead")
	_, ok = parseTransferLog("bsc", lg)
	assert.False(t, ok)
}

func TestParseTransferLogSkipsReorged(t *testing.T) {
	lg := transferLog(common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(5))
	lg.Removed = true
	_, ok := parseTransferLog("eth", lg)
	assert.False(t, ok)
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0x10ed…024e", ShortAddress("0x10ed43c718714eb63d5aa57b78b54704e256024e"))
	assert.Equal(t, "0xshort", ShortAddress("0xshort"))
}
