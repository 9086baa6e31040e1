package service

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/agent"
	"github.com/xkilldash9x/tandem-cli/internal/audit"
	"github.com/xkilldash9x/tandem-cli/internal/capability"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
	"github.com/xkilldash9x/tandem-cli/internal/sandbox"
	"github.com/xkilldash9x/tandem-cli/internal/session"
	"github.com/xkilldash9x/tandem-cli/internal/skills"
)

// Components holds everything a query session needs. It centralizes the
// lifecycle of those dependencies.
type Components struct {
	Backend    *sandbox.Backend
	Registry   *capability.Registry
	Skills     *skills.Library
	LLMClient  schemas.LLMClient
	Engine     schemas.Engine
	Privileged *agent.Agent
	Restricted *agent.Agent
	Gateway    *agent.Gateway
	Sink       *audit.Sink
	Ledger     *AsyncLedger
	Controller *session.Controller
	DBPool     *pgxpool.Pool

	// ownsClient is false when the LLM client was injected by the caller.
	ownsClient bool
}

// Shutdown releases components in reverse dependency order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Drain pending ledger writes before the pool goes away.
	if c.Ledger != nil {
		if !c.Ledger.Close(10 * time.Second) {
			logger.Warn("Timed out waiting for the session ledger to drain.")
		} else {
			logger.Debug("Session ledger drained.")
		}
	}

	// 2. Flush the audit sink.
	if c.Sink != nil {
		if err := c.Sink.Close(); err != nil {
			logger.Warn("Error closing audit sink.", zap.Error(err))
		}
	}

	// 3. Release the model client.
	if c.LLMClient != nil && c.ownsClient {
		if err := c.LLMClient.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}

	// 4. Close the database connection pool.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}

// timedWait waits for wg with a deadline and reports whether it finished.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
