package storage

import (
	"context"
	"time"
)

// IsEventProcessed проверяет, обрабатывалось ли событие провайдера.
func (s *Storage) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	const op = "storage.IsEventProcessed"
	var exists bool
	err := s.ext(ctx).QueryRowxContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, translate(op, err)
	}
	return exists, nil
}

// MarkEventProcessed записывает событие как обработанное. Возвращает false,
// если событие уже было записано конкурентным обработчиком.
func (s *Storage) MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	const op = "storage.MarkEventProcessed"
	res, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO processed_webhook_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`, eventID, eventType, at)
	if err != nil {
		return false, translate(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(op, err)
	}
	return n == 1, nil
}
