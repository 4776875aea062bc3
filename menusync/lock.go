package menusync

import (
	"context"
	"errors"
	"time"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/bsm/redislock"
)

const syncLockKey = "menu-sync:run"

// runLock guards a run across service instances. A nil lock means Redis is not connected
// and only the database status check protects against overlapping runs.
type runLock struct {
	lock *redislock.Lock
	stop chan struct{}
}

// acquireRunLock is swapped in tests.
var acquireRunLock = obtainRunLock

func obtainRunLock(ctx context.Context) (*runLock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return &runLock{}, nil
	}
	ttl := time.Duration(config.IntFromEnv("MENU_SYNC_LOCK_TTL_SECONDS", 300)) * time.Second
	lock, err := locker.Obtain(ctx, syncLockKey, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, err
	}

	rl := &runLock{lock: lock, stop: make(chan struct{})}
	go rl.keepAlive(ttl)
	return rl, nil
}

// runLockHeld reports whether some process currently holds the sync lock.
func runLockHeld(ctx context.Context) (bool, error) {
	rdb := config.GetRedisDB()
	if rdb == nil {
		return false, nil
	}
	n, err := rdb.Exists(ctx, syncLockKey).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *runLock) keepAlive(ttl time.Duration) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.lock.Refresh(context.Background(), ttl, nil); err != nil {
				config.LogError(config.GetLogger(), "menusync", "runLock.keepAlive", "refresh sync lock", syncLockKey, err)
				return
			}
		}
	}
}

func (l *runLock) Release() {
	if l == nil || l.lock == nil {
		return
	}
	close(l.stop)
	if err := l.lock.Release(context.Background()); err != nil {
		config.LogError(config.GetLogger(), "menusync", "runLock.Release", "release sync lock", syncLockKey, err)
	}
}
