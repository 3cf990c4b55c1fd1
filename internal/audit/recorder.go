package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/model"
	"otp-auth-service/internal/util"
)

// Recorder streams security events to Kafka and mirrors them into the
// ClickHouse events table. Recording is best effort: an unreachable sink
// must never fail the auth request that produced the event.
type Recorder struct {
	producer   *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	buckets    *bucketing.Manager
	topic      string
}

func NewRecorder(producer *client.KafkaProducer, ch *client.ClickHouseClient, buckets *bucketing.Manager, cfg *config.Config) *Recorder {
	return &Recorder{
		producer:   producer,
		clickhouse: ch,
		buckets:    buckets,
		topic:      cfg.Kafka.Topic,
	}
}

// Record fans one event out to both sinks on its own goroutine, so a slow
// sink never adds latency to the request that produced the event. Failures
// are logged and swallowed.
func (r *Recorder) Record(event model.SecurityEvent) {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	go r.dispatch(event)
}

func (r *Recorder) dispatch(event model.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if r.producer != nil {
		payload, err := json.Marshal(event)
		if err == nil {
			err = r.producer.ProduceMessage(ctx, r.topic,
				[]byte(event.PhoneHash), payload,
				map[string]string{"event_type": event.EventType})
		}
		if err != nil {
			util.Warn("failed to stream security event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	if r.clickhouse != nil {
		err := r.clickhouse.Exec(ctx, `
            INSERT INTO security_events
                (event_date, event_time, event_type, phone_hash, ip_address, session_id, details)
            VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.buckets.DateBucket(event.EventTime), event.EventTime,
			event.EventType, event.PhoneHash, event.IPAddress,
			event.SessionID, event.Details)
		if err != nil {
			util.Warn("failed to store security event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}
}
