/*
Copyright 2025 Intake Authors.

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

package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/intakehq/intake/config"
	redis_db "github.com/intakehq/intake/internal/redis-db"
	"github.com/intakehq/intake/model"
)

// Queue is the client for the Redis-backed work item store. Each named queue
// keeps six registries: a ready list, an in-progress list, and scheduled,
// finished, failed and deferred sorted sets. Item bodies live in per-job keys
// and an identity index maps an identity key to the job currently owning it.
//
// Every multi-key transition runs as a single Lua script so that a crash
// between steps can never leave an item in two registries at once.
type Queue struct {
	client    redis.UniversalClient
	queues    []string
	retention time.Duration
}

const (
	keyPrefix       = "intake"
	dequeuePollTick = 200 * time.Millisecond
	webhookReadyKey = keyPrefix + ":webhook:ready"

	// scheduledClaimBatch caps how many due items one reconciliation pass
	// claims per queue.
	scheduledClaimBatch = 100
)

// enqueueScript claims the identity index and enqueues the job in one atomic
// step. An index already pointing at another job aborts the push and returns
// that job's id, so racing submissions of one document converge on a single
// item. ARGV[3] names a job the caller has just removed; an index entry still
// pointing at it no longer blocks the claim.
const enqueueScript = `
local owner = redis.call('GET', KEYS[2])
if owner and owner ~= ARGV[3] then
	return owner
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('LPUSH', KEYS[3], ARGV[2])
return ''
`

// transitionScript moves a job out of the in-progress list into a sorted-set
// registry and stores the updated body.
const transitionScript = `
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[3])
return 1
`

// claimDueScript atomically claims due items from the scheduled registry. The
// ZREM acts as the claim: with several scheduler instances racing, only the
// one whose ZREM returns 1 re-enqueues the item, so duplicate passes are
// harmless no-ops.
const claimDueScript = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local claimed = {}
for _, id in ipairs(due) do
	if redis.call('ZREM', KEYS[1], id) == 1 then
		redis.call('LPUSH', KEYS[2], id)
		claimed[#claimed + 1] = id
	end
end
return claimed
`

// removeItemScript deletes a terminal item: registry entries, body, and the
// identity index entry if it still points at this job.
const removeItemScript = `
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
if redis.call('GET', KEYS[4]) == ARGV[1] then
	redis.call('DEL', KEYS[4])
end
return 1
`

// NewQueue initializes a Queue instance with its own Redis connection.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	redisClient, err := redis_db.NewRedisClient([]string{conf.Redis.Dns}, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return NewQueueWithClient(redisClient.Client(), conf), nil
}

// NewQueueWithClient initializes a Queue on an existing Redis client.
func NewQueueWithClient(client redis.UniversalClient, conf *config.Configuration) *Queue {
	return &Queue{
		client:    client,
		queues:    conf.Queue.Queues,
		retention: conf.Queue.Retention(),
	}
}

// Queues returns the configured lane names in priority order.
func (q *Queue) Queues() []string {
	return q.queues
}

func readyKey(queue string) string {
	return fmt.Sprintf("%s:%s:ready", keyPrefix, queue)
}

func inProgressKey(queue string) string {
	return fmt.Sprintf("%s:%s:in_progress", keyPrefix, queue)
}

func registryKey(queue string, status model.JobStatus) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, queue, status)
}

func jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", keyPrefix, jobID)
}

func identityIndexKey(identityKey string) string {
	return fmt.Sprintf("%s:identity:%s", keyPrefix, identityKey)
}

// Enqueue adds a ready work item to its lane. Body write, identity claim and
// list push happen in one atomic step; an identity already held by another
// job is an error here, callers wanting absorption go through Submit.
func (q *Queue) Enqueue(ctx context.Context, item *model.WorkItem) error {
	owner, err := q.claimAndEnqueue(ctx, item, "")
	if err != nil {
		return err
	}
	if owner != "" {
		return errors.Errorf("identity %s is already held by job %s", item.IdentityKey, owner)
	}
	return nil
}

// claimAndEnqueue enqueues the item unless its identity key is already owned
// by another job, in which case that job's id is returned and nothing is
// written. replaceJobID names a job the caller just removed, so an index
// entry still pointing at it does not block the claim.
func (q *Queue) claimAndEnqueue(ctx context.Context, item *model.WorkItem, replaceJobID string) (string, error) {
	ctx, span := tracer.Start(ctx, "Adding WorkItem To Redis Queue")
	defer span.End()

	item.Status = model.StatusReady
	body, err := item.ToJSON()
	if err != nil {
		return "", err
	}

	keys := []string{jobKey(item.JobID), identityIndexKey(item.IdentityKey), readyKey(item.Queue)}
	res, err := q.client.Eval(ctx, enqueueScript, keys, body, item.JobID, replaceJobID).Result()
	if err != nil {
		return "", errors.Wrap(err, "failed to enqueue work item")
	}
	if owner, ok := res.(string); ok && owner != "" {
		return owner, nil
	}
	log.Printf(" [*] Successfully enqueued work item: %s (queue %s)", item.JobID, item.Queue)
	return "", nil
}

// Dequeue blocks until a ready item is available on any of the given lanes,
// scanning them in priority order. The item is moved to in-progress and its
// attempt counter incremented before it is returned. A zero timeout blocks
// until ctx is done.
func (q *Queue) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*model.WorkItem, error) {
	if len(queues) == 0 {
		queues = q.queues
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		for _, queue := range queues {
			jobID, err := q.client.LMove(ctx, readyKey(queue), inProgressKey(queue), "RIGHT", "LEFT").Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, errors.Wrap(err, "failed to dequeue work item")
			}
			return q.startAttempt(ctx, jobID)
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dequeuePollTick):
		}
	}
}

// startAttempt stamps the dequeued item as in-progress. List membership is
// the authoritative status; the body is a projection of it.
func (q *Queue) startAttempt(ctx context.Context, jobID string) (*model.WorkItem, error) {
	item, err := q.GetWorkItem(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.Errorf("work item %s has no body", jobID)
	}

	item.Status = model.StatusInProgress
	item.AttemptCount++
	item.StartedAt = time.Now().UTC()
	if err := q.saveBody(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// MarkFinished records a successful terminal outcome.
func (q *Queue) MarkFinished(ctx context.Context, item *model.WorkItem, result json.RawMessage) error {
	item.Status = model.StatusFinished
	item.Result = result
	item.LastError = ""
	item.EndedAt = time.Now().UTC()
	return q.transition(ctx, item, registryKey(item.Queue, model.StatusFinished), float64(item.EndedAt.Unix()))
}

// MarkFailedRetry parks the item in the scheduled registry until now+delay.
func (q *Queue) MarkFailedRetry(ctx context.Context, item *model.WorkItem, delay time.Duration, cause error) error {
	item.Status = model.StatusScheduled
	item.NextAttemptAt = time.Now().UTC().Add(delay)
	if cause != nil {
		item.LastError = cause.Error()
	}
	return q.transition(ctx, item, registryKey(item.Queue, model.StatusScheduled), float64(item.NextAttemptAt.Unix()))
}

// MarkFailedPermanent records a failed terminal outcome.
func (q *Queue) MarkFailedPermanent(ctx context.Context, item *model.WorkItem, cause error) error {
	item.Status = model.StatusFailed
	if cause != nil {
		item.LastError = cause.Error()
	}
	item.EndedAt = time.Now().UTC()
	return q.transition(ctx, item, registryKey(item.Queue, model.StatusFailed), float64(item.EndedAt.Unix()))
}

// MarkDeferred parks the item out of the retry cycle. Nothing moves a
// deferred item automatically; an operator resubmits or removes it.
func (q *Queue) MarkDeferred(ctx context.Context, item *model.WorkItem, cause error) error {
	item.Status = model.StatusDeferred
	if cause != nil {
		item.LastError = cause.Error()
	}
	item.EndedAt = time.Now().UTC()
	return q.transition(ctx, item, registryKey(item.Queue, model.StatusDeferred), float64(item.EndedAt.Unix()))
}

func (q *Queue) transition(ctx context.Context, item *model.WorkItem, registry string, score float64) error {
	body, err := item.ToJSON()
	if err != nil {
		return err
	}
	keys := []string{inProgressKey(item.Queue), registry, jobKey(item.JobID)}
	err = q.client.Eval(ctx, transitionScript, keys, item.JobID, score, body).Err()
	if err != nil {
		return errors.Wrapf(err, "failed to move work item %s to %s", item.JobID, item.Status)
	}
	return nil
}

// RequeueDue claims every item in the queue's scheduled registry whose
// next_attempt_at has passed and pushes it back onto the ready list. Returns
// the claimed job ids. Safe to call from any number of scheduler instances.
func (q *Queue) RequeueDue(ctx context.Context, queue string, now time.Time) ([]string, error) {
	keys := []string{registryKey(queue, model.StatusScheduled), readyKey(queue)}
	res, err := q.client.Eval(ctx, claimDueScript, keys, now.Unix(), scheduledClaimBatch).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan scheduled registry for queue %s", queue)
	}

	raw, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}
	claimed := make([]string, 0, len(raw))
	for _, v := range raw {
		id, ok := v.(string)
		if !ok {
			continue
		}
		claimed = append(claimed, id)
		// Projection update; the claim itself already happened atomically.
		if item, err := q.GetWorkItem(ctx, id); err == nil && item != nil {
			item.Status = model.StatusReady
			item.NextAttemptAt = time.Time{}
			if err := q.saveBody(ctx, item); err != nil {
				log.Printf("requeue: failed to update body for %s: %v", id, err)
			}
		}
	}
	return claimed, nil
}

// RecoverStuck returns items abandoned in the in-progress list to the retry
// cycle. A worker that crashes mid-item never reports back, and the
// non-terminal item would otherwise hold its identity key forever, absorbing
// every resubmission of the document. The LREM is the claim: racing recovery
// passes fight over it and only the winner transitions the item. Items with
// attempts left go back to ready; exhausted ones fail.
func (q *Queue) RecoverStuck(ctx context.Context, queue string, threshold time.Duration, now time.Time) ([]string, error) {
	ids, err := q.client.LRange(ctx, inProgressKey(queue), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan in-progress list for queue %s", queue)
	}

	var recovered []string
	for _, id := range ids {
		item, err := q.GetWorkItem(ctx, id)
		if err != nil {
			log.Printf("recovery: failed to load body for %s: %v", id, err)
			continue
		}
		if item == nil {
			// Dangling id with no body; nothing to recover.
			q.client.LRem(ctx, inProgressKey(queue), 1, id)
			continue
		}
		if item.StartedAt.IsZero() || now.Sub(item.StartedAt) < threshold {
			continue
		}

		removed, err := q.client.LRem(ctx, inProgressKey(queue), 1, id).Result()
		if err != nil || removed == 0 {
			continue
		}

		if item.AttemptsExhausted() {
			item.Status = model.StatusFailed
			item.LastError = fmt.Sprintf("worker did not report within %s", threshold)
			item.EndedAt = now.UTC()
			if err := q.transition(ctx, item, registryKey(queue, model.StatusFailed), float64(item.EndedAt.Unix())); err != nil {
				log.Printf("recovery: failed to fail stuck item %s: %v", id, err)
				continue
			}
		} else {
			if err := q.client.LPush(ctx, readyKey(queue), id).Err(); err != nil {
				log.Printf("recovery: failed to requeue stuck item %s: %v", id, err)
				continue
			}
			item.Status = model.StatusReady
			item.StartedAt = time.Time{}
			if err := q.saveBody(ctx, item); err != nil {
				log.Printf("recovery: failed to update body for %s: %v", id, err)
			}
		}
		recovered = append(recovered, id)
	}
	return recovered, nil
}

// TrimExpired removes terminal items older than the retention window, along
// with their bodies and identity index entries.
func (q *Queue) TrimExpired(ctx context.Context, queue string, now time.Time) error {
	cutoff := float64(now.Add(-q.retention).Unix())
	for _, status := range []model.JobStatus{model.StatusFinished, model.StatusFailed} {
		registry := registryKey(queue, status)
		ids, err := q.client.ZRangeByScore(ctx, registry, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", cutoff)}).Result()
		if err != nil {
			return errors.Wrapf(err, "failed to scan %s registry for queue %s", status, queue)
		}
		for _, id := range ids {
			item, err := q.GetWorkItem(ctx, id)
			if err != nil {
				return err
			}
			if item == nil {
				q.client.ZRem(ctx, registry, id)
				continue
			}
			if err := q.RemoveItem(ctx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveItem deletes a terminal item entirely. Submit uses this to replace a
// finished or failed item when the same identity is resubmitted.
func (q *Queue) RemoveItem(ctx context.Context, item *model.WorkItem) error {
	keys := []string{
		registryKey(item.Queue, model.StatusFinished),
		registryKey(item.Queue, model.StatusFailed),
		jobKey(item.JobID),
		identityIndexKey(item.IdentityKey),
	}
	err := q.client.Eval(ctx, removeItemScript, keys, item.JobID).Err()
	if err != nil {
		return errors.Wrapf(err, "failed to remove work item %s", item.JobID)
	}
	return nil
}

// GetWorkItem retrieves a work item body by job id. Returns nil without an
// error when no such item exists.
func (q *Queue) GetWorkItem(ctx context.Context, jobID string) (*model.WorkItem, error) {
	body, err := q.client.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch work item %s", jobID)
	}
	return model.WorkItemFromJSON(body)
}

// FindByIdentity returns the work item currently owning an identity key, or
// nil when none does.
func (q *Queue) FindByIdentity(ctx context.Context, identityKey string) (*model.WorkItem, error) {
	jobID, err := q.client.Get(ctx, identityIndexKey(identityKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up identity index")
	}
	return q.GetWorkItem(ctx, jobID)
}

func (q *Queue) saveBody(ctx context.Context, item *model.WorkItem) error {
	body, err := item.ToJSON()
	if err != nil {
		return err
	}
	return q.client.Set(ctx, jobKey(item.JobID), body, 0).Err()
}

// QueueStats holds per-registry counts for one named queue.
type QueueStats struct {
	Queue      string `json:"queue"`
	Ready      int64  `json:"ready"`
	InProgress int64  `json:"in_progress"`
	Scheduled  int64  `json:"scheduled"`
	Finished   int64  `json:"finished"`
	Failed     int64  `json:"failed"`
	Deferred   int64  `json:"deferred"`
}

// Stats counts the items in every registry of every configured queue.
func (q *Queue) Stats(ctx context.Context) ([]QueueStats, error) {
	stats := make([]QueueStats, 0, len(q.queues))
	for _, queue := range q.queues {
		ready, err := q.client.LLen(ctx, readyKey(queue)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to count ready items for queue %s", queue)
		}
		inProgress, err := q.client.LLen(ctx, inProgressKey(queue)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to count in-progress items for queue %s", queue)
		}
		s := QueueStats{Queue: queue, Ready: ready, InProgress: inProgress}
		for status, target := range map[model.JobStatus]*int64{
			model.StatusScheduled: &s.Scheduled,
			model.StatusFinished:  &s.Finished,
			model.StatusFailed:    &s.Failed,
			model.StatusDeferred:  &s.Deferred,
		} {
			n, err := q.client.ZCard(ctx, registryKey(queue, status)).Result()
			if err != nil {
				return nil, errors.Wrapf(err, "failed to count %s items for queue %s", status, queue)
			}
			*target = n
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// EnqueueWebhook pushes a serialized webhook event onto the webhook queue.
func (q *Queue) EnqueueWebhook(ctx context.Context, payload []byte) error {
	return q.client.LPush(ctx, webhookReadyKey, payload).Err()
}

// DequeueWebhook pops the next webhook event, blocking up to timeout. Returns
// nil without an error when the wait times out.
func (q *Queue) DequeueWebhook(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, webhookReadyKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}
