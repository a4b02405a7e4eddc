package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"github.com/bsm/redislock"
)

// safely dereference pointer of type T, nil pointer return zero value or optional default
func DereferencePtr[T any](ptr *T, defaults ...T) T {
	var defaultValue T
	if len(defaults) > 0 {
		defaultValue = defaults[0]
	}
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

func Ptr[T any](v T) *T {
	return &v
}

func NilIfEmpty[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

// EntityCreateLock serializes find-or-create for a canonical entity key
// (normalized company domain, company name, or company+email pair).
// The returned release func is safe to call on a nil-lock error path.
//
// Redis is a best-effort serializer here: the unique indexes on
// companies(business_id, domain) and contacts(company_id, email) are the
// hard guarantee; losing the lock race surfaces as a duplicate-key error
// that the caller resolves by refetching.
func EntityCreateLock(ctx context.Context, businessId string, lockType string, key string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Redis not configured (single-worker deployments, tests).
		return func() {}, nil
	}
	lockKey := fmt.Sprintf("%s:%s:%s", lockType, businessId, key)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain entity create lock", lockKey, err)
		return func() {}, errors.New("could not obtain lock for " + lockType)
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining entity create lock", lockKey, err)
		return func() {}, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}
