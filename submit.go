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

	"github.com/pkg/errors"

	"github.com/intakehq/intake/config"
	"github.com/intakehq/intake/internal/apierror"
	"github.com/intakehq/intake/model"
)

const resultPollTick = 250 * time.Millisecond

// identityClaimAttempts bounds how many times Submit retries the identity
// claim when racing other submitters over a terminal item's replacement.
const identityClaimAttempts = 4

// Submit computes the document's identity key and enqueues a work item for
// it, deduplicating against in-flight work:
//
//   - an existing non-terminal item with the same identity absorbs the
//     submission and its handle is returned, no new item created;
//   - an existing terminal item is removed and a fresh item takes over the
//     identity, so a resubmission after failure starts clean;
//   - otherwise a new item is enqueued in ready status.
//
// The identity claim happens inside the enqueue script, so any number of
// concurrent submissions of the same document converge on exactly one work
// item. An empty queue name selects the default lane.
func (i *Intake) Submit(ctx context.Context, document model.SourceDocument, queue string) (*model.WorkItem, error) {
	ctx, span := tracer.Start(ctx, "Submitting Document")
	defer span.End()

	if err := document.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid document", err)
	}
	if queue == "" {
		queue = config.QueueDefault
	}

	item := model.NewWorkItem(document, queue)
	i.applyRetryPolicy(item)

	replaceJobID := ""
	for attempt := 0; attempt < identityClaimAttempts; attempt++ {
		ownerID, err := i.queue.claimAndEnqueue(ctx, item, replaceJobID)
		if err != nil {
			return nil, err
		}
		if ownerID == "" {
			return item, nil
		}

		owner, err := i.queue.GetWorkItem(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if owner != nil && !owner.Status.Terminal() {
			log.Printf(" [*] Duplicate submission absorbed by in-flight work item: %s", owner.JobID)
			return owner, nil
		}

		// A terminal owner (or a dangling index entry) gives up the identity.
		// Remove it and re-claim against the id just observed; losing that
		// race to another submitter is absorbed on the next pass.
		if owner != nil {
			if err := i.queue.RemoveItem(ctx, owner); err != nil {
				return nil, err
			}
		}
		replaceJobID = ownerID
	}
	return nil, errors.Errorf("could not claim identity for document %q after %d attempts",
		document.Subject, identityClaimAttempts)
}

// applyRetryPolicy overlays the configured retry policy on a fresh item.
func (i *Intake) applyRetryPolicy(item *model.WorkItem) {
	cfg, err := config.Fetch()
	if err != nil {
		return
	}
	if cfg.Queue.MaxRetryAttempts > 0 {
		item.MaxAttempts = cfg.Queue.MaxRetryAttempts
	}
	if delays := cfg.Queue.RetryDelays(); len(delays) > 0 {
		item.RetryDelays = delays
	}
}

// SubmitOrProcessInline submits the document and waits for the queued result
// up to the configured job timeout. When submission fails outright (queue
// store unreachable) or the wait times out, the ingestion pipeline runs
// inline in the calling context instead, so the operation stays available
// without queue-level retry for that one call.
func (i *Intake) SubmitOrProcessInline(ctx context.Context, document model.SourceDocument) (*IngestionResult, error) {
	if err := document.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid document", err)
	}

	item, err := i.Submit(ctx, document, "")
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrInvalidInput {
			return nil, err
		}
		log.Printf("queue store unavailable, processing inline: %v", err)
		return i.Ingest(ctx, document)
	}

	result, err := i.waitForResult(ctx, item.JobID)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	log.Printf("no queued result for %s within the job timeout, processing inline", item.JobID)
	return i.Ingest(ctx, document)
}

// waitForResult polls the work item until it reaches a terminal state or the
// job timeout elapses. A timeout returns (nil, nil) so the caller can fall
// back.
func (i *Intake) waitForResult(ctx context.Context, jobID string) (*IngestionResult, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(cfg.Queue.JobTimeout())
	for time.Now().Before(deadline) {
		item, err := i.queue.GetWorkItem(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if item != nil {
			switch item.Status {
			case model.StatusFinished:
				var result IngestionResult
				if err := json.Unmarshal(item.Result, &result); err != nil {
					return nil, errors.Wrap(err, "failed to decode queued result")
				}
				return &result, nil
			case model.StatusFailed:
				return nil, errors.Errorf("job %s failed: %s", jobID, item.LastError)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(resultPollTick):
		}
	}
	return nil, nil
}
