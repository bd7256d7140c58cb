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
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intakehq/intake/config"
)

// RetryScheduler is the reconciliation loop that returns scheduled items to
// the ready queue once their retry delay has elapsed. It exists because the
// worker runtime does not manage delayed retries on its own. All state lives
// in the queue store; crash and restart of any number of scheduler instances
// loses no work, and concurrent instances claim items atomically so double
// requeue cannot happen.
type RetryScheduler struct {
	queue          *Queue
	interval       time.Duration
	stuckThreshold time.Duration
}

// NewRetryScheduler builds a scheduler ticking at the given interval. A zero
// interval falls back to one second. The stuck threshold comes from config.
func NewRetryScheduler(q *Queue, interval time.Duration) *RetryScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	stuck := 10 * time.Minute
	if cfg, err := config.Fetch(); err == nil && cfg.Queue.StuckThreshold() > 0 {
		stuck = cfg.Queue.StuckThreshold()
	}
	return &RetryScheduler{queue: q, interval: interval, stuckThreshold: stuck}
}

// Start runs the reconciliation loop until ctx is done.
func (s *RetryScheduler) Start(ctx context.Context) error {
	log.Printf(" [*] Retry scheduler started, interval %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Reconcile(ctx, time.Now())
		}
	}
}

// Reconcile performs one pass over every queue's scheduled registry and
// in-progress list: due retries go back to ready, items abandoned by a dead
// worker are recovered, and expired terminal items are trimmed. A failure on
// one queue is logged and skipped so a single backing-store hiccup does not
// halt the whole pass. Returns how many items were returned to service.
func (s *RetryScheduler) Reconcile(ctx context.Context, now time.Time) int {
	requeued := 0
	for _, queue := range s.queue.Queues() {
		claimed, err := s.queue.RequeueDue(ctx, queue, now)
		if err != nil {
			logrus.Errorf("scheduler: scan failed for queue %s: %v", queue, err)
			continue
		}
		if len(claimed) > 0 {
			log.Printf(" [*] Requeued %d due item(s) on queue %s", len(claimed), queue)
		}
		requeued += len(claimed)

		recovered, err := s.queue.RecoverStuck(ctx, queue, s.stuckThreshold, now)
		if err != nil {
			logrus.Errorf("scheduler: stuck recovery failed for queue %s: %v", queue, err)
		} else if len(recovered) > 0 {
			log.Printf(" [*] Recovered %d stuck item(s) on queue %s", len(recovered), queue)
			requeued += len(recovered)
		}

		if err := s.queue.TrimExpired(ctx, queue, now); err != nil {
			logrus.Errorf("scheduler: retention trim failed for queue %s: %v", queue, err)
		}
	}
	return requeued
}
