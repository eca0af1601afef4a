// Package actors serialises access to the chat services. Each actor answers
// a request with its result or a *utils.AppError.
package actors

import (
	stdctx "context"
	"time"

	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	jww "github.com/spf13/jwalterweatherman"
)

// DefaultOpTimeout bounds the store work done for one request.
const DefaultOpTimeout = 5 * time.Second

type base struct {
	metrics   *utils.MetricsCollector
	opTimeout time.Duration
}

func newBase(metrics *utils.MetricsCollector, opTimeout time.Duration) base {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return base{metrics: metrics, opTimeout: opTimeout}
}

func (b base) opContext() (stdctx.Context, stdctx.CancelFunc) {
	return stdctx.WithTimeout(stdctx.Background(), b.opTimeout)
}

// reply answers the sender with result, or with err as an AppError.
func (b base) reply(context actor.Context, operation string, start time.Time, result interface{}, err error) {
	if b.metrics != nil {
		b.metrics.AddOperationLatency(operation, time.Since(start))
	}
	if err != nil {
		appErr := utils.AsAppError(err)
		if appErr.Code == utils.ErrTransientIO {
			jww.ERROR.Printf("%s failed: %v", operation, err)
			if b.metrics != nil {
				b.metrics.IncrementErrors()
			}
		}
		context.Respond(appErr)
		return
	}
	context.Respond(result)
}
