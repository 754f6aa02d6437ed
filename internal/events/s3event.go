// Package events reads S3 "object created" notifications, either pulled
// from SQS or posted to the API, and hands them to the dispatcher.
package events

import (
	"encoding/json"
	"strings"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/pipeline"
)

type s3Notification struct {
	Records []struct {
		EventSource string `json:"eventSource"`
		EventName   string `json:"eventName"`
		S3          struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
	// set on the test message S3 sends when a notification is configured
	Event string `json:"Event"`
}

// snsEnvelope is how the notification arrives when S3 publishes to SNS and
// SNS fans out to the queue.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// ParseS3Event returns the object-created uploads in body. Keys are left
// URL-encoded; the dispatcher decodes them. Test events and other event
// types yield no uploads.
func ParseS3Event(body []byte) ([]pipeline.UploadEvent, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Type == "Notification" && env.Message != "" {
		body = []byte(env.Message)
	}

	var n s3Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalid, "parse s3 event", err)
	}
	if n.Event == "s3:TestEvent" {
		return nil, nil
	}
	out := make([]pipeline.UploadEvent, 0, len(n.Records))
	for _, r := range n.Records {
		if !strings.HasPrefix(r.EventName, "ObjectCreated:") {
			continue
		}
		if r.S3.Bucket.Name == "" || r.S3.Object.Key == "" {
			return nil, apperr.Invalid("parse s3 event", "record without bucket or key")
		}
		out = append(out, pipeline.UploadEvent{Bucket: r.S3.Bucket.Name, Key: r.S3.Object.Key})
	}
	return out, nil
}
