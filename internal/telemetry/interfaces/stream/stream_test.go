package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"wellhead-monitor/internal/telemetry/application"
	telemetry "wellhead-monitor/internal/telemetry/domain"
)

type scriptedIntake struct {
	mu       sync.Mutex
	failures int
	accepted []telemetry.ReadingInput
}

func (s *scriptedIntake) Accept(ctx context.Context, transport string, in telemetry.ReadingInput) (*application.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.DeviceID == "WH-999" {
		return nil, &telemetry.ValidationError{Field: "deviceId", Reason: "unknown device"}
	}
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("db down")
	}
	s.accepted = append(s.accepted, in)
	return &application.Result{Reading: telemetry.Reading{DeviceID: in.DeviceID}}, nil
}

func (s *scriptedIntake) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accepted)
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	done      chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	if len(r.messages) == 0 && r.done != nil {
		close(r.done)
		r.done = nil
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestProcessCountsOutcomes(t *testing.T) {
	intake := &scriptedIntake{}
	raw := []byte(`[{"timestamp":"2025-03-01T10:00:00","wellhead_id":"WH-001","parameters":{"THP":1,"FLP":2}},{"timestamp":"2025-03-01T10:00:00","wellhead_id":"WH-999","parameters":{"THP":1}}]`)
	summary, err := process(context.Background(), intake, "test", raw, quietLogger())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Accepted != 2 || summary.Rejected != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	summary, err = process(context.Background(), intake, "test", []byte(`not json`), quietLogger())
	if err != nil || summary.Rejected != 1 {
		t.Fatalf("malformed payload should be dropped: %+v %v", summary, err)
	}
}

func TestKafkaConsumerCommitsAfterStoreAndSkipsPoison(t *testing.T) {
	reader := &fakeReader{
		done: make(chan struct{}),
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(`garbage`)},
			{Offset: 2, Value: []byte(`{"deviceId":"WH-001","parameterCode":"THP","timestampUtc":"2025-03-01T10:00:00Z","value":1}`)},
		},
	}
	intake := &scriptedIntake{failures: 2}
	consumer, err := newKafkaConsumer(reader, intake, quietLogger())
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	consumer.minBackoff = time.Millisecond
	consumer.maxBackoff = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(finished)
	}()
	select {
	case <-reader.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not commit in time")
	}
	cancel()
	<-finished

	if intake.count() != 1 {
		t.Fatalf("expected 1 stored reading after retries, got %d", intake.count())
	}
	if len(reader.committed) != 2 || reader.committed[0] != 1 || reader.committed[1] != 2 {
		t.Fatalf("unexpected commits: %v", reader.committed)
	}
}

func TestNewSubscribersValidateConfig(t *testing.T) {
	if _, err := NewMQTTSubscriber(MQTTConfig{Topic: "t"}, &scriptedIntake{}, nil); err == nil {
		t.Fatalf("expected broker error")
	}
	if _, err := NewMQTTSubscriber(MQTTConfig{Broker: "tcp://localhost:1883", Topic: "t"}, nil, nil); err == nil {
		t.Fatalf("expected intake error")
	}
	if _, err := NewKafkaConsumer(KafkaConfig{Topic: "t"}, &scriptedIntake{}, nil); err == nil {
		t.Fatalf("expected brokers error")
	}
}
