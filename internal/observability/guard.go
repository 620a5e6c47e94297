package observability

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Guard contains panics raised by background goroutines. In production
// a recovered panic is logged and the process exits after the grace
// period; otherwise the panic is logged and re-raised.
type Guard struct {
	logger      *zap.Logger
	production  bool
	gracePeriod time.Duration
	exit        func(code int)
}

// NewGuard creates a Guard
func NewGuard(logger *zap.Logger, production bool, gracePeriod time.Duration) *Guard {
	return &Guard{
		logger:      logger,
		production:  production,
		gracePeriod: gracePeriod,
		exit:        os.Exit,
	}
}

// Go runs fn on a new goroutine under the guard
func (g *Guard) Go(name string, fn func()) {
	go func() {
		defer g.Recover(name)
		fn()
	}()
}

// Recover must be deferred directly
func (g *Guard) Recover(name string) {
	rec := recover()
	if rec == nil {
		return
	}
	g.logger.Error("uncaught fault",
		zap.String("goroutine", name),
		zap.String("panic", fmt.Sprint(rec)),
		zap.Stack("stack"))

	if !g.production {
		panic(rec)
	}
	g.logger.Error("terminating after grace period", zap.Duration("grace_period", g.gracePeriod))
	_ = g.logger.Sync()
	time.Sleep(g.gracePeriod)
	g.exit(1)
}
