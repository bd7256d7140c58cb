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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/intakehq/intake/api/model"
	"github.com/intakehq/intake/internal/apierror"
)

// IngestDocument runs the ingestion pipeline synchronously, preferring the
// queue and falling back to inline processing when the queue store is
// unavailable or the queued result does not arrive within the job timeout.
func (a Api) IngestDocument(c *gin.Context) {
	var doc model2.IngestDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := doc.ValidateIngestDocument(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	result, err := a.intake.SubmitOrProcessInline(c.Request.Context(), doc.ToSourceDocument())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// SubmitDocument enqueues the document and returns the work item handle
// immediately. A duplicate submission returns the already in-flight item.
func (a Api) SubmitDocument(c *gin.Context) {
	var doc model2.IngestDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := doc.ValidateIngestDocument(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	item, err := a.intake.Submit(c.Request.Context(), doc.ToSourceDocument(), doc.Queue)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, item)
}

// GetJob returns the current state of a queued work item.
func (a Api) GetJob(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	item, err := a.intake.Queue().GetWorkItem(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, item)
}

// GetQueueStats counts the items in every registry of every configured queue.
func (a Api) GetQueueStats(c *gin.Context) {
	stats, err := a.intake.Queue().Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"queues": stats})
}

// RetryRecord replays one failed record from its retained payload snapshot.
func (a Api) RetryRecord(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	result, err := a.intake.RetryRecord(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// RetryAllFailed replays every failed record and reports the outcome.
func (a Api) RetryAllFailed(c *gin.Context) {
	succeeded, failures := a.intake.RetryAllFailed(c.Request.Context())

	errMessages := make([]string, 0, len(failures))
	for _, err := range failures {
		errMessages = append(errMessages, err.Error())
	}

	c.JSON(http.StatusOK, gin.H{
		"succeeded": succeeded,
		"failed":    len(failures),
		"errors":    errMessages,
	})
}
