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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakehq/intake/config"
	"github.com/intakehq/intake/internal/apierror"
	"github.com/intakehq/intake/model"
)

func TestSubmitCreatesReadyItem(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)

	doc := NewMockDocument()
	item, err := i.Submit(ctx, doc, "")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, model.StatusReady, item.Status)
	assert.Equal(t, config.QueueDefault, item.Queue)
	assert.Equal(t, doc.IdentityKey(), item.IdentityKey)
	assert.Equal(t, model.DefaultMaxAttempts, item.MaxAttempts)
}

func TestSubmitRejectsInvalidDocument(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)

	doc := NewMockDocument()
	doc.Sender = ""

	_, err := i.Submit(ctx, doc, "")
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidInput, apiErr.Code)
}

// At-least-once delivery upstream means the same document can be submitted
// any number of times; only one work item may exist for it.
func TestSubmitDeduplicatesInFlight(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)

	doc := NewMockDocument()
	first, err := i.Submit(ctx, doc, "")
	require.NoError(t, err)

	second, err := i.Submit(ctx, doc, "")
	require.NoError(t, err)
	assert.Equal(t, first.JobID, second.JobID)

	stats, err := i.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), findLane(t, stats, config.QueueDefault).Ready)
}

// At-least-once delivery means the same document can be submitted from many
// goroutines at once; the identity claim inside the enqueue script must leave
// exactly one work item behind, with every caller handed its id.
func TestSubmitConcurrentDuplicatesCreateOneItem(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)

	doc := NewMockDocument()
	const submitters = 64

	var wg sync.WaitGroup
	items := make([]*model.WorkItem, submitters)
	errs := make([]error, submitters)
	for n := 0; n < submitters; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			items[n], errs[n] = i.Submit(ctx, doc, "")
		}(n)
	}
	wg.Wait()

	ids := make(map[string]struct{})
	for n := 0; n < submitters; n++ {
		require.NoError(t, errs[n])
		require.NotNil(t, items[n])
		ids[items[n].JobID] = struct{}{}
	}
	assert.Len(t, ids, 1)

	stats, err := i.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), findLane(t, stats, config.QueueDefault).Ready)

	winner, err := i.queue.FindByIdentity(ctx, doc.IdentityKey())
	require.NoError(t, err)
	require.NotNil(t, winner)
	_, owns := ids[winner.JobID]
	assert.True(t, owns)
}

// Dedup still applies while the item is in progress or scheduled for retry.
func TestSubmitDeduplicatesScheduled(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)

	doc := NewMockDocument()
	first, err := i.Submit(ctx, doc, "")
	require.NoError(t, err)

	dequeued, err := i.queue.Dequeue(ctx, nil, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, i.queue.MarkFailedRetry(ctx, dequeued, time.Minute, assert.AnError))

	second, err := i.Submit(ctx, doc, "")
	require.NoError(t, err)
	assert.Equal(t, first.JobID, second.JobID)
}

// A terminal item no longer absorbs submissions: the identity passes to a
// fresh item and the stale one is removed.
func TestSubmitReplacesTerminalItem(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)

	doc := NewMockDocument()
	first, err := i.Submit(ctx, doc, "")
	require.NoError(t, err)

	dequeued, err := i.queue.Dequeue(ctx, nil, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, i.queue.MarkFailedPermanent(ctx, dequeued, assert.AnError))

	second, err := i.Submit(ctx, doc, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, model.StatusReady, second.Status)

	removed, err := i.queue.GetWorkItem(ctx, first.JobID)
	require.NoError(t, err)
	assert.Nil(t, removed)

	owner, err := i.queue.FindByIdentity(ctx, doc.IdentityKey())
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, second.JobID, owner.JobID)
}

func TestSubmitHonorsQueueLane(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)

	item, err := i.Submit(ctx, NewMockDocument(), config.QueueHigh)
	require.NoError(t, err)
	assert.Equal(t, config.QueueHigh, item.Queue)

	stats, err := i.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), findLane(t, stats, config.QueueHigh).Ready)
}

// With no worker running the sync path waits out the job timeout and then
// processes inline, so the caller still gets a complete result.
func TestSubmitOrProcessInlineFallsBack(t *testing.T) {
	ctx := context.Background()
	i, ds, _ := newTestIntake(t)

	doc := NewMockDocument()
	result, err := i.SubmitOrProcessInline(ctx, doc)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Record)
	assert.Equal(t, model.RecordStatusProcessed, result.Record.Status)
	require.NotNil(t, result.Case)

	stored, err := ds.GetRecord(ctx, result.Record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusProcessed, stored.Status)
}

// When a worker completes the job within the timeout the sync path returns
// the queued result without running inline.
func TestSubmitOrProcessInlineUsesQueuedResult(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)
	worker := NewWorker(i, nil)

	workerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = worker.Start(workerCtx) }()

	extractor := i.extractor.(*scriptedExtractor)

	doc := NewMockDocument()
	result, err := i.SubmitOrProcessInline(ctx, doc)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, model.RecordStatusProcessed, result.Record.Status)

	// One extraction call: the worker's. No inline re-run happened.
	assert.Equal(t, 1, extractor.callCount())
}

func TestSubmitOrProcessInlineRejectsInvalidDocument(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)

	doc := NewMockDocument()
	doc.Body = ""

	_, err := i.SubmitOrProcessInline(ctx, doc)
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidInput, apiErr.Code)
}
