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

// Package request holds the JSON-over-HTTP plumbing shared by the
// extraction client, webhook delivery and error notification.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ToJSONBody encodes payload as a JSON request body.
func ToJSONBody(payload interface{}) (*bytes.Buffer, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(raw), nil
}

// PostJSON POSTs payload to url and decodes the JSON response body into
// response (skipped when response is nil). Headers are set on top of the
// JSON content type. A nil client sends through a default client. Non-2xx
// statuses are returned as errors alongside the raw response.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, response interface{}) (*http.Response, error) {
	body, err := ToJSONBody(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	if response != nil {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return resp, err
		}
	}
	return resp, nil
}
