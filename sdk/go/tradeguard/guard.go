package tradeguard

import "context"

// TradeFunc places one trade.
type TradeFunc func(ctx context.Context) error

// Wrap returns a TradeFunc that calls fn only after the action has been
// counted. If policy denies it, returns a *BlockedError without calling fn.
// A failed fn still counts: the counter tracks attempts, not fills.
func (c *Client) Wrap(fn TradeFunc) TradeFunc {
	return func(ctx context.Context) error {
		if _, err := c.Attempt(ctx); err != nil {
			return err
		}
		return fn(ctx)
	}
}
