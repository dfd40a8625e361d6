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

package inference

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DistributedLock is a best-effort, fail-fast short-circuit in front of the
// Postgres row lock: it lets a second concurrent /infer caller return
// immediately instead of blocking on the database's SELECT ... FOR UPDATE
// for the run's full duration. It is not the source of correctness -- the
// cursor row lock is -- so a Redis outage degrades to "always acquired"
// rather than blocking inference.
type DistributedLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDistributedLock constructs a DistributedLock bound to client, with ttl
// bounding how long a crashed holder can wedge the short-circuit.
func NewDistributedLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) *DistributedLock {
	return &DistributedLock{client: client, ttl: ttl, logger: logger}
}

// TryAcquire attempts to claim key. It returns (true, release, nil) when
// the caller should proceed -- either because it holds the lock, or
// because Redis was unreachable and the engine falls back to the
// Postgres-only guarantee. It returns (false, noop, nil) when another
// caller already holds the lock.
func (l *DistributedLock) TryAcquire(ctx context.Context, key string) (bool, func(), error) {
	if l.client == nil {
		return true, func() {}, nil
	}

	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("distributed lock unavailable, relying on database row lock only", zap.Error(err))
		}
		return true, func() {}, nil
	}
	if !ok {
		return false, func() {}, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Del(releaseCtx, key).Err(); err != nil && l.logger != nil {
			l.logger.Warn("failed to release distributed lock", zap.String("key", key), zap.Error(err))
		}
	}
	return true, release, nil
}
