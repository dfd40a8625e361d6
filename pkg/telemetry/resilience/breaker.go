/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package resilience wraps the repository layer's database calls with a
// per-operation circuit breaker, so a Postgres outage fails fast across
// ingestion, report, and recommend paths instead of piling up blocked
// goroutines on the connection pool.
package resilience

import (
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Manager hands out one circuit breaker per named operation, created
// lazily on first use and cached thereafter.
type Manager struct {
	settings gobreaker.Settings
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewManager builds a Manager. settings.ReadyToTrip and settings.Timeout are
// shared across all operations; settings.Name is overwritten per breaker.
func NewManager(settings gobreaker.Settings, logger *zap.Logger) *Manager {
	return &Manager{settings: settings, logger: logger, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (m *Manager) breaker(name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}

	settings := m.settings
	settings.Name = name
	if m.logger != nil {
		baseOnStateChange := settings.OnStateChange
		settings.OnStateChange = func(n string, from, to gobreaker.State) {
			m.logger.Warn("circuit breaker state change", zap.String("breaker", n), zap.String("from", from.String()), zap.String("to", to.String()))
			if baseOnStateChange != nil {
				baseOnStateChange(n, from, to)
			}
		}
	}

	b := gobreaker.NewCircuitBreaker(settings)
	m.breakers[name] = b
	return b
}

// Execute runs fn behind the named operation's circuit breaker, returning
// gobreaker.ErrOpenState when the breaker is open.
func (m *Manager) Execute(name string, fn func() (interface{}, error)) (interface{}, error) {
	return m.breaker(name).Execute(fn)
}

// DefaultSettings returns sensible breaker parameters for a database-backed
// repository: trip after 5 consecutive failures. Timeout is left unset, so
// an open breaker goes half-open after gobreaker's default of 60s.
func DefaultSettings() gobreaker.Settings {
	return gobreaker.Settings{
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}
