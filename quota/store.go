package quota

import (
	"context"
	"time"
)

// DefaultStoreTimeout bounds each store call made by the meter, the guard
// and the plan resolver.
const DefaultStoreTimeout = 10 * time.Second

// storeContext detaches ctx from request cancellation so a disconnecting
// client cannot leave a counter or link record half written.
func storeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
