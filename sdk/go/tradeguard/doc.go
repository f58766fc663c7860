// Package tradeguard provides in-process trade gating for Go trading bots.
// It reads the same settings store as the browser bridge, so a bot and a
// trading tab share one daily limit and one trading window.
//
// Usage:
//
//	tg, err := tradeguard.New(tradeguard.WithSQLite("/home/me/.tradeguard/tradeguard.db"))
//	defer tg.Close()
//	placeOrder := tg.Wrap(func(ctx context.Context) error {
//	    return broker.Submit(ctx, order)
//	})
//	if err := placeOrder(ctx); err != nil {
//	    var blocked *tradeguard.BlockedError
//	    if errors.As(err, &blocked) { ... }
//	}
//
// The wrapped function runs only after the action has been durably counted.
// The SDK links directly against internal packages. External users import
// github.com/ppiankov/tradeguard/sdk/go/tradeguard.
package tradeguard
