package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/pipeline"
)

const putEvent = `{"Records":[{"eventSource":"aws:s3","eventName":"ObjectCreated:Put",
 "s3":{"bucket":{"name":"raw-bucket"},"object":{"key":"raw/t1/d1/f1/Spec+Section+03.pdf","size":1024}}},
 {"eventSource":"aws:s3","eventName":"ObjectRemoved:Delete",
 "s3":{"bucket":{"name":"raw-bucket"},"object":{"key":"raw/t1/d1/f2/old.pdf"}}}]}`

func TestParseS3EventKeepsOnlyCreates(t *testing.T) {
	evs, err := ParseS3Event([]byte(putEvent))

	require.NoError(t, err)
	assert.Equal(t, []pipeline.UploadEvent{{Bucket: "raw-bucket", Key: "raw/t1/d1/f1/Spec+Section+03.pdf"}}, evs)
}

func TestParseS3EventUnwrapsSNS(t *testing.T) {
	body, err := json.Marshal(map[string]string{"Type": "Notification", "Message": putEvent})
	require.NoError(t, err)

	evs, err := ParseS3Event(body)

	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "raw-bucket", evs[0].Bucket)
}

func TestParseS3EventIgnoresTestEvent(t *testing.T) {
	evs, err := ParseS3Event([]byte(`{"Service":"Amazon S3","Event":"s3:TestEvent","Bucket":"raw-bucket"}`))
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestParseS3EventRejectsGarbage(t *testing.T) {
	_, err := ParseS3Event([]byte(`not json`))
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

type fakeSQS struct {
	messages []types.Message
	deleted  []string
	recvErr  error
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	msgs := f.messages
	f.messages = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeDispatcher struct {
	errs map[string]error
	seen []pipeline.UploadEvent
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev pipeline.UploadEvent) (*pipeline.DispatchResult, error) {
	f.seen = append(f.seen, ev)
	if err := f.errs[ev.Key]; err != nil {
		return nil, err
	}
	return &pipeline.DispatchResult{Outcome: pipeline.OutcomeStarted, JobID: "j-" + ev.Key}, nil
}

func message(id, key string) types.Message {
	body := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"raw"},"object":{"key":"` + key + `"}}}]}`
	return types.Message{MessageId: aws.String(id), ReceiptHandle: aws.String("rh-" + id), Body: aws.String(body)}
}

func TestPollOnceDeletesHandledMessages(t *testing.T) {
	api := &fakeSQS{messages: []types.Message{
		message("1", "raw/t1/d1/f1/a.pdf"),
		message("2", "raw/t1/d1/f2/b.pdf"),
		message("3", "raw/t1/d1/f3/c.pdf"),
		{MessageId: aws.String("4"), ReceiptHandle: aws.String("rh-4"), Body: aws.String("{{")},
	}}
	d := &fakeDispatcher{errs: map[string]error{
		"raw/t1/d1/f2/b.pdf": apperr.NotFound("dispatch", "no file record"),
		"raw/t1/d1/f3/c.pdf": apperr.Transient("get object", errors.New("throttled")),
	}}
	c := NewSQSConsumer(api, "https://sqs.example/queue", d, nil)

	n, err := c.PollOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"rh-1", "rh-2", "rh-4"}, api.deleted)
	assert.Len(t, d.seen, 3)
}

func TestPollOnceReportsReceiveFailure(t *testing.T) {
	api := &fakeSQS{recvErr: errors.New("connection reset")}
	c := NewSQSConsumer(api, "q", &fakeDispatcher{}, nil)

	_, err := c.PollOnce(context.Background())

	assert.True(t, apperr.Is(err, apperr.KindTransient))
}

func TestRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewSQSConsumer(&fakeSQS{}, "q", &fakeDispatcher{}, nil)
	assert.NoError(t, c.Run(ctx))
}
