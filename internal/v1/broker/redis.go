// Package broker implements the control plane's side of the external
// pub/sub transport: topic naming, dynamic-subscription tracking, and
// outbound notification publishing. The MQTT/NATS wire protocol itself
// is out of scope (spec §1); this package stands in the same place in
// the call graph, backed by Redis, and is what the rest of the service
// is tested against.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Notification is an outbound event published to a room or audience
// topic (spec §6: room.close, rtc_stream.update, agent_writer_config.update,
// message.broadcast, room.create, room.update, room.upload).
type Notification struct {
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload"`
}

// RoomTopic and AudienceTopic implement the two topic namespaces spec §6
// names.
func RoomTopic(roomID string) string        { return fmt.Sprintf("rooms/%s/events", roomID) }
func AudienceTopic(audience string) string  { return fmt.Sprintf("audiences/%s/events", audience) }
func ClassroomTopic(classroomID string) string { return fmt.Sprintf("classrooms/%s/events", classroomID) }

// Service is the Redis-backed broker adapter.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewService dials Redis and wires a circuit breaker around publish/set
// operations, mirroring the teacher's bus.Service.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "broker",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("broker").Set(stateVal)
		},
	}

	slog.Info("connected to broker backing store", "addr", addr)
	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// Publish sends a notification to topic. Degrades gracefully (drops the
// message, logs, does not error the caller) when the circuit is open,
// matching the teacher's Redis publish behavior.
func (s *Service) Publish(ctx context.Context, topic string, label string, payload any) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (any, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal notification payload: %w", err)
		}
		data, err := json.Marshal(Notification{Label: label, Payload: body})
		if err != nil {
			return nil, fmt.Errorf("marshal notification envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, topic, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("broker").Inc()
			slog.Warn("broker circuit open: dropping publish", "topic", topic, "label", label)
			return nil
		}
		slog.Error("broker publish failed", "topic", topic, "label", label, "error", err)
		return err
	}
	return nil
}

// dynSubKey is the per-room Redis set of agent ids holding a confirmed
// dynamic subscription on that room (spec §4.2 room.enter/leave glue).
func dynSubKey(roomID string) string { return fmt.Sprintf("dynsub:room:%s", roomID) }

// SubscribeCreate records a dynamic-subscription-create request for
// roomID/agentID. The real control plane waits for the broker's ack;
// here that ack is modeled as the SADD succeeding.
func (s *Service) SubscribeCreate(ctx context.Context, roomID, agentID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.SAdd(ctx, dynSubKey(roomID), agentID).Err()
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("broker").Inc()
		return nil
	}
	return err
}

// SubscribeDelete reverses SubscribeCreate on room.leave.
func (s *Service) SubscribeDelete(ctx context.Context, roomID, agentID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.SRem(ctx, dynSubKey(roomID), agentID).Err()
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("broker").Inc()
		return nil
	}
	return err
}

// Subscribed reports whether agentID currently holds a confirmed
// subscription on roomID.
func (s *Service) Subscribed(ctx context.Context, roomID, agentID string) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	res, err := s.cb.Execute(func() (any, error) {
		return s.client.SIsMember(ctx, dynSubKey(roomID), agentID).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("broker").Inc()
			return false, nil
		}
		return false, err
	}
	return res.(bool), nil
}

func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("broker").Inc()
		return err
	}
	return err
}

func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
