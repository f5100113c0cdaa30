package notify

import (
	"fmt"
	"html"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/0xBitWishper/buybots/bot/chain"
	"github.com/0xBitWishper/buybots/bot/store"
)

// FormatAmount scales a raw integer token amount by the token's decimals and
// renders it with a fixed number of fraction digits. Exact decimal math, no
// float rounding.
func FormatAmount(amount *big.Int, decimals uint8, precision int32) string {
	if amount == nil {
		amount = new(big.Int)
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).StringFixed(precision)
}

// BuildCaption renders the HTML notification body for one purchase.
func BuildCaption(cfg store.GroupConfig, evt chain.TransferEvent, explorerTxURL string, precision int32, sample bool) string {
	token := cfg.Token
	header := "NEW BUY"
	if sample {
		header = "NEW BUY (SAMPLE)"
	}

	amount := FormatAmount(evt.Amount, token.Decimals, precision)
	buyer := chain.ShortAddress(evt.To)

	return fmt.Sprintf(
		"%s <b>%s</b> %s\n\n"+
			"🔄 <b>%s (%s)</b>\n\n"+
			"💰 Amount: <b>%s %s</b>\n"+
			"👤 Buyer: <code>%s</code>\n\n"+
			"🔗 <a href=\"%s%s\">View Transaction</a>",
		cfg.Emojis, header, cfg.Emojis,
		html.EscapeString(token.Name), html.EscapeString(token.Symbol),
		amount, html.EscapeString(token.Symbol),
		buyer,
		explorerTxURL, evt.TxHash,
	)
}
