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
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intakehq/intake/model"
)

// Worker pulls one ready item at a time and runs the ingestion pipeline on
// it. One worker processes one item fully before pulling the next; horizontal
// scaling means more worker processes against the same queue store, not
// intra-process concurrency, which keeps same-row mutation hazards out of the
// process and down in the database transactions.
type Worker struct {
	intake *Intake
	queues []string
}

// NewWorker builds a worker pulling from the given lanes in priority order.
// Empty lanes default to the configured queue list.
func NewWorker(i *Intake, queues []string) *Worker {
	if len(queues) == 0 {
		queues = i.queue.Queues()
	}
	return &Worker{intake: i, queues: queues}
}

// Start runs the worker loop until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	log.Printf(" [*] Worker started, queues: %v", w.queues)
	for {
		item, err := w.intake.queue.Dequeue(ctx, w.queues, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.Errorf("dequeue failed: %v", err)
			// An unreachable queue store fails fast; pause so the loop does
			// not spin hot against it.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(dequeuePollTick):
			}
			continue
		}
		if item == nil {
			continue
		}
		w.ProcessItem(ctx, item)
	}
}

// ProcessItem runs the pipeline for one dequeued item and reports the outcome
// back to the queue store:
//
//	ready -> in_progress -> finished
//	                     -> scheduled  (retryable failure, attempts remain)
//	                     -> failed     (exhausted or permanent)
func (w *Worker) ProcessItem(ctx context.Context, item *model.WorkItem) {
	result, err := w.intake.Ingest(ctx, item.Payload)
	if err == nil {
		payload, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			logrus.Errorf("failed to encode result for %s: %v", item.JobID, marshalErr)
			payload = nil
		}
		if markErr := w.intake.queue.MarkFinished(ctx, item, payload); markErr != nil {
			logrus.Errorf("failed to mark %s finished: %v", item.JobID, markErr)
		}
		log.Printf(" [*] Finished work item: %s (attempt %d)", item.JobID, item.AttemptCount)
		return
	}

	if IsRetryable(err) && !item.AttemptsExhausted() {
		delay := item.NextDelay()
		if markErr := w.intake.queue.MarkFailedRetry(ctx, item, delay, err); markErr != nil {
			logrus.Errorf("failed to schedule retry for %s: %v", item.JobID, markErr)
			return
		}
		log.Printf(" [*] Scheduled retry for work item: %s in %s (attempt %d/%d)",
			item.JobID, delay, item.AttemptCount, item.MaxAttempts)
		return
	}

	if markErr := w.intake.queue.MarkFailedPermanent(ctx, item, err); markErr != nil {
		logrus.Errorf("failed to mark %s failed: %v", item.JobID, markErr)
		return
	}
	logrus.Errorf("work item %s permanently failed after %d attempt(s): %v", item.JobID, item.AttemptCount, err)
}
