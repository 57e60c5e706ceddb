// Package services собирает продуктовую аналитику: события пишутся в лог,
// Prometheus, кольцевой буфер в памяти и, если настроен брокер, в exchange
// analytics. Агрегаты по подпискам читаются из хранилища.
package services

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/metrics"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

// BufferSize сколько последних событий хранится в памяти.
const BufferSize = 1000

// publishQueueSize сколько событий может ждать отправки в брокер.
const publishQueueSize = 256

// PremiumPrice месячная цена премиума в долларах для расчёта MRR.
const PremiumPrice = 1.00

// ErrInvalidPeriod начало периода позже конца.
var ErrInvalidPeriod = apperr.New(apperr.KindBadRequest, "INVALID_PERIOD", "start_date must not be after end_date")

// Repository агрегаты по подпискам.
type Repository interface {
	SubscriptionStats(ctx context.Context, from, to time.Time) (models.SubscriptionStats, error)
	CohortStats(ctx context.Context) ([]models.CohortStats, error)
}

// Publisher рассылает события внешним потребителям.
type Publisher interface {
	Publish(ctx context.Context, event models.AnalyticsEvent) error
}

// QueuePublisher публикует события в fanout-exchange analytics.
type QueuePublisher struct {
	ch rabbitmq.Channel
}

// NewQueuePublisher создает новый экземпляр QueuePublisher.
func NewQueuePublisher(ch rabbitmq.Channel) *QueuePublisher {
	return &QueuePublisher{ch: ch}
}

// Publish публикует событие.
func (p *QueuePublisher) Publish(_ context.Context, event models.AnalyticsEvent) error {
	return rabbitmq.PublishMessage(p.ch, rabbitmq.AnalyticsExchange, "", event)
}

// Period границы выборки.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SubscriptionMetrics сводные показатели подписок за период.
type SubscriptionMetrics struct {
	Period                 Period  `json:"period"`
	TotalSubscriptions     int64   `json:"total_subscriptions"`
	PremiumSubscriptions   int64   `json:"premium_subscriptions"`
	FreeSubscriptions      int64   `json:"free_subscriptions"`
	CancelledSubscriptions int64   `json:"cancelled_subscriptions"`
	ConversionRate         float64 `json:"conversion_rate"`
	ChurnRate              float64 `json:"churn_rate"`
	MRR                    float64 `json:"mrr"`
}

// Cohort когорта подписок одного месяца.
type Cohort struct {
	Cohort        string  `json:"cohort"`
	Total         int64   `json:"total_users"`
	Active        int64   `json:"active_users"`
	RetentionRate float64 `json:"retention_rate"`
}

// TierUsage обращения к функции по тарифам.
type TierUsage struct {
	Free    int64 `json:"free"`
	Premium int64 `json:"premium"`
	Total   int64 `json:"total"`
}

// Dashboard все показатели одним ответом.
type Dashboard struct {
	SubscriptionMetrics *SubscriptionMetrics    `json:"subscription_metrics"`
	Cohorts             []Cohort                `json:"cohort_analysis"`
	FeatureUsage        map[string]TierUsage    `json:"feature_usage"`
	RecentEvents        []models.AnalyticsEvent `json:"recent_events"`
	GeneratedAt         time.Time               `json:"generated_at"`
}

// AnalyticsService хранит события и считает показатели.
type AnalyticsService struct {
	repo      Repository
	publisher Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	events []models.AnalyticsEvent
	next   int
	full   bool
	usage  map[string]*TierUsage
	queue  chan models.AnalyticsEvent
	closed bool
	done   chan struct{}
}

// NewAnalyticsService создает новый экземпляр AnalyticsService.
// publisher и m могут быть nil. Если publisher задан, события отправляются
// в фоне, и сервис нужно закрыть через Close.
func NewAnalyticsService(repo Repository, publisher Publisher, m *metrics.Metrics, log *slog.Logger) *AnalyticsService {
	if m == nil {
		m = metrics.NewNop()
	}
	s := &AnalyticsService{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		log:       log,
		now:       time.Now,
		events:    make([]models.AnalyticsEvent, BufferSize),
		usage:     make(map[string]*TierUsage),
		done:      make(chan struct{}),
	}
	if publisher != nil {
		s.queue = make(chan models.AnalyticsEvent, publishQueueSize)
		go s.publishLoop()
	} else {
		close(s.done)
	}
	return s
}

func (s *AnalyticsService) publishLoop() {
	defer close(s.done)
	for event := range s.queue {
		if err := s.publisher.Publish(context.Background(), event); err != nil {
			s.log.Warn("failed to publish analytics event", slog.String("event_type", string(event.Type)), sl.Err(err))
		}
	}
}

// Close дожидается отправки событий из очереди. Повторный вызов безопасен.
func (s *AnalyticsService) Close() {
	s.mu.Lock()
	if s.queue != nil && !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

// Track записывает событие и никогда не блокируется на брокере: при
// переполненной очереди отправки событие в брокер не попадает.
func (s *AnalyticsService) Track(_ context.Context, event models.AnalyticsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}

	s.log.Info("analytics event",
		slog.String("event_type", string(event.Type)),
		slog.String("user_id", event.UserID),
		slog.Any("properties", event.Properties),
	)
	s.metrics.AnalyticsEvents.WithLabelValues(string(event.Type)).Inc()

	s.mu.Lock()
	s.events[s.next] = event
	s.next = (s.next + 1) % BufferSize
	if s.next == 0 {
		s.full = true
	}
	if event.Type == models.EventFeatureAccessed {
		s.countFeature(event.Properties)
	}
	dropped := false
	if s.queue != nil && !s.closed {
		select {
		case s.queue <- event:
		default:
			dropped = true
		}
	}
	s.mu.Unlock()

	if dropped {
		s.log.Warn("analytics publish queue is full, event not published", slog.String("event_type", string(event.Type)))
	}
}

func (s *AnalyticsService) countFeature(props map[string]any) {
	feature, _ := props["feature"].(string)
	if feature == "" {
		return
	}
	u, ok := s.usage[feature]
	if !ok {
		u = &TierUsage{}
		s.usage[feature] = u
	}
	tier, _ := props["tier"].(string)
	if models.Tier(tier) == models.TierPremium {
		u.Premium++
	} else {
		u.Free++
	}
	u.Total++
}

// Events последние события, новые первыми. Пустой eventType означает все типы.
func (s *AnalyticsService) Events(eventType models.EventType, limit int) []models.AnalyticsEvent {
	if limit <= 0 {
		limit = 100
	}
	limit = min(limit, BufferSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = BufferSize
	}
	out := make([]models.AnalyticsEvent, 0, min(limit, size))
	for i := 1; i <= size && len(out) < limit; i++ {
		e := s.events[(s.next-i+BufferSize)%BufferSize]
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
	}
	return out
}

// FeatureUsage обращения к функциям с момента запуска.
func (s *AnalyticsService) FeatureUsage() map[string]TierUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TierUsage, len(s.usage))
	for k, v := range s.usage {
		out[k] = *v
	}
	return out
}

// SubscriptionMetrics показатели подписок, созданных в [from, to].
func (s *AnalyticsService) SubscriptionMetrics(ctx context.Context, from, to time.Time) (*SubscriptionMetrics, error) {
	if from.After(to) {
		return nil, ErrInvalidPeriod
	}
	stats, err := s.repo.SubscriptionStats(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &SubscriptionMetrics{
		Period:                 Period{Start: from, End: to},
		TotalSubscriptions:     stats.Total,
		PremiumSubscriptions:   stats.Premium,
		FreeSubscriptions:      stats.Free(),
		CancelledSubscriptions: stats.Cancelled,
		ConversionRate:         round2(stats.ConversionRate()),
		ChurnRate:              round2(stats.ChurnRate()),
		MRR:                    round2(float64(stats.PremiumActive) * PremiumPrice),
	}, nil
}

// CohortAnalysis когорты, месяц которых пересекается с последними periodDays
// днями. periodDays <= 0 возвращает все когорты.
func (s *AnalyticsService) CohortAnalysis(ctx context.Context, periodDays int) ([]Cohort, error) {
	rows, err := s.repo.CohortStats(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Time{}
	if periodDays > 0 {
		cutoff = s.now().UTC().AddDate(0, 0, -periodDays)
	}

	out := make([]Cohort, 0, len(rows))
	for _, r := range rows {
		if !cutoff.IsZero() {
			month, err := time.Parse("2006-01", r.Cohort)
			if err == nil && !month.AddDate(0, 1, 0).After(cutoff) {
				continue
			}
		}
		out = append(out, Cohort{
			Cohort:        r.Cohort,
			Total:         r.Total,
			Active:        r.Active,
			RetentionRate: round2(r.RetentionRate()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cohort < out[j].Cohort })
	return out, nil
}

// Dashboard показатели за последние 30 дней, когорты за год, использование
// функций и 10 последних событий.
func (s *AnalyticsService) Dashboard(ctx context.Context) (*Dashboard, error) {
	now := s.now().UTC()
	sm, err := s.SubscriptionMetrics(ctx, now.AddDate(0, 0, -30), now)
	if err != nil {
		return nil, err
	}
	cohorts, err := s.CohortAnalysis(ctx, 365)
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		SubscriptionMetrics: sm,
		Cohorts:             cohorts,
		FeatureUsage:        s.FeatureUsage(),
		RecentEvents:        s.Events("", 10),
		GeneratedAt:         now,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
