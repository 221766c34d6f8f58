package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by TryAcquireLock when the lock is already held by
// a different task id.
var ErrLockHeld = errors.New("kv: lock already held")

// releaseScript performs a compare-and-delete: only removes the key if its
// current value still equals the caller's task id, so a worker can never
// release a lock that a different task has since re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func lockKey(prefix, id string) string {
	return "lock:" + prefix + ":" + id
}

// CrawlLockKey, GradingLockKey and AssessmentLockKey name the three
// per-target locks §4.1 requires before a crawl/grading/assessment task is
// published.
func CrawlLockKey(botID string) string        { return lockKey("crawl", botID) }
func GradingLockKey(visitorID string) string  { return lockKey("grading", visitorID) }
func AssessmentLockKey(visitorID string) string { return lockKey("assessment", visitorID) }

const (
	crawlLockTTL      = 2 * time.Hour
	gradingLockTTL    = 300 * time.Second
	assessmentLockTTL = 300 * time.Second
)

// TryAcquireLock attempts SET NX EX. Returns (true, nil) on success, or
// (false, nil) if the key is already held by someone else — callers compare
// the existing value's task id against the candidate's running TaskState to
// decide between AlreadyRunning and silently proceeding (force=true).
func (c *Client) TryAcquireLock(ctx context.Context, key, taskID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, taskID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ForceAcquireLock overwrites the lock unconditionally — used when a caller
// passes force=true to bypass an AlreadyRunning check. Unlike TryAcquireLock
// this always succeeds; the previous holder's task id is simply replaced.
func (c *Client) ForceAcquireLock(ctx context.Context, key, taskID string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, taskID, ttl).Err(); err != nil {
		return fmt.Errorf("force-acquire lock %s: %w", key, err)
	}
	return nil
}

// LockHolder returns the task id currently holding the lock, or "" if unheld.
func (c *Client) LockHolder(ctx context.Context, key string) (string, error) {
	return c.KVGet(ctx, key)
}

// ReleaseLock performs the compare-and-delete release: the lock is only
// cleared if it still names taskID, so a worker that outlived its own lease
// (e.g. after a timeout reassigned the lock) cannot clobber the new holder.
func (c *Client) ReleaseLock(ctx context.Context, key, taskID string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{key}, taskID).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// AcquireCrawlLock is the CrawlLock(bot_id) helper with its §3 TTL.
func (c *Client) AcquireCrawlLock(ctx context.Context, botID, taskID string) (bool, error) {
	return c.TryAcquireLock(ctx, CrawlLockKey(botID), taskID, crawlLockTTL)
}

// AcquireGradingLock is the GradingLock(visitor_id) helper with its §3 TTL.
func (c *Client) AcquireGradingLock(ctx context.Context, visitorID, taskID string) (bool, error) {
	return c.TryAcquireLock(ctx, GradingLockKey(visitorID), taskID, gradingLockTTL)
}

// AcquireAssessmentLock is the AssessmentLock(visitor_id) helper with its §3 TTL.
func (c *Client) AcquireAssessmentLock(ctx context.Context, visitorID, taskID string) (bool, error) {
	return c.TryAcquireLock(ctx, AssessmentLockKey(visitorID), taskID, assessmentLockTTL)
}

// crawlStopKey names the CrawlStop(bot_id) sentinel.
func crawlStopKey(botID string) string {
	return "crawlstop:" + botID
}

// SignalCrawlStop sets the CrawlStop sentinel a running crawl polls for
// cooperative cancellation between page batches.
func (c *Client) SignalCrawlStop(ctx context.Context, botID string) error {
	return c.SetEx(ctx, crawlStopKey(botID), "1", crawlLockTTL)
}

// IsCrawlStopRequested checks the CrawlStop sentinel.
func (c *Client) IsCrawlStopRequested(ctx context.Context, botID string) (bool, error) {
	val, err := c.KVGet(ctx, crawlStopKey(botID))
	if err != nil {
		return false, err
	}
	return val != "", nil
}

// ClearCrawlStop removes the sentinel once a crawl has observed and honored it.
func (c *Client) ClearCrawlStop(ctx context.Context, botID string) error {
	return c.Del(ctx, crawlStopKey(botID))
}
