package audit

import (
	"net"
	"testing"
	"time"

	"otp-auth-service/internal/bucketing"
	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/model"
)

// A broker that accepts connections but never answers leaves the producer
// sitting on its timeout. Record must still return to the caller immediately.
func TestRecordNeverBlocksCaller(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Brokers: []string{ln.Addr().String()},
			Topic:   "security-events",
		},
		Bucketing: config.BucketingConfig{UserBuckets: 16},
	}
	producer, err := client.NewKafkaProducer(cfg)
	if err != nil {
		t.Fatalf("producer: %v", err)
	}
	t.Cleanup(func() { _ = producer.Close() })

	rec := NewRecorder(producer, nil, bucketing.NewManager(cfg), cfg)

	start := time.Now()
	rec.Record(model.SecurityEvent{
		EventType: model.EventOTPRequested,
		PhoneHash: "abc",
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Record took %v, want an immediate return", elapsed)
	}
}
