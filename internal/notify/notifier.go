package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BookingConfirmed is handed off to the delivery side (mail/QR printing)
// after the booking transaction commits. Delivery failure never fails
// the booking.
type BookingConfirmed struct {
	AppointmentCode string    `json:"appointment_code"`
	PatientID       uuid.UUID `json:"patient_id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	Date            string    `json:"date"`
	TimeSlot        string    `json:"time_slot"`
}

// Notifier dispatches booking confirmations.
type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, evt BookingConfirmed) error
}

// LogNotifier just records the confirmation; used in dev and as the
// fallback when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyBookingConfirmed(_ context.Context, evt BookingConfirmed) error {
	log.Printf("booking confirmed code=%s patient=%s date=%s slot=%q",
		evt.AppointmentCode, evt.PatientID, evt.Date, evt.TimeSlot)
	return nil
}

const bookingChannel = "notifications:booking-confirmed"

// RedisNotifier publishes confirmations on a Redis pub/sub channel for
// the delivery workers to pick up.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) NotifyBookingConfirmed(ctx context.Context, evt BookingConfirmed) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal booking confirmation: %w", err)
	}

	if err := n.client.Publish(ctx, bookingChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish booking confirmation: %w", err)
	}
	return nil
}
