package rabbitmq

import (
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestAttemptOf(t *testing.T) {
	cases := []struct {
		headers amqp.Table
		want    int
	}{
		{nil, 0},
		{amqp.Table{}, 0},
		{amqp.Table{attemptHeader: int32(2)}, 2},
		{amqp.Table{attemptHeader: int64(3)}, 3},
		{amqp.Table{attemptHeader: "4"}, 0},
	}
	for _, tc := range cases {
		if got := attemptOf(tc.headers); got != tc.want {
			t.Fatalf("attemptOf(%v) = %d, want %d", tc.headers, got, tc.want)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	if d := retryDelay(2*time.Second, 1); d != 2*time.Second {
		t.Fatalf("first retry: %s", d)
	}
	if d := retryDelay(2*time.Second, 3); d != 8*time.Second {
		t.Fatalf("third retry: %s", d)
	}
	if d := retryDelay(2*time.Second, 20); d != time.Minute {
		t.Fatalf("expected cap, got %s", d)
	}
}

func TestQueueNames(t *testing.T) {
	if retryQueueName("chat_reply_jobs") != "chat_reply_jobs.retry" {
		t.Fatalf("unexpected retry queue name")
	}
	if deadQueueName("chat_reply_jobs") != "chat_reply_jobs.dlq" {
		t.Fatalf("unexpected dlq name")
	}
}

func TestJobPublishing(t *testing.T) {
	if _, err := jobPublishing(""); err == nil {
		t.Fatalf("expected error for empty job id")
	}

	pub, err := jobPublishing("01J0")
	if err != nil {
		t.Fatalf("jobPublishing: %v", err)
	}
	if pub.DeliveryMode != amqp.Persistent {
		t.Fatalf("expected persistent delivery")
	}
	var m ReplyJobMessage
	if err := json.Unmarshal(pub.Body, &m); err != nil || m.JobID != "01J0" {
		t.Fatalf("unexpected body %s (%v)", pub.Body, err)
	}
}
