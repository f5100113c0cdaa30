package netutil

import (
	"errors"
	"net"
	"net/url"

	tele "gopkg.in/telebot.v4"
)

// ShouldRetry reports whether an error is worth retrying. It covers
// transient dial/timeout failures produced by net/http while contacting
// the Telegram API, plus flood-wait responses. Notification bursts on
// active tokens hit the per-chat flood limit regularly.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() || netErr.Temporary() {
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() || opErr.Op == "dial" {
			return true
		}
		if nested, ok := opErr.Err.(net.Error); ok {
			if nested.Timeout() || nested.Temporary() {
				return true
			}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		if urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
			return ShouldRetry(urlErr.Err)
		}
	}

	return false
}
