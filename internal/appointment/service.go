package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/princedwivedi2/pet-help-backend/internal/availability"
	"github.com/princedwivedi2/pet-help-backend/internal/clock"
	"github.com/princedwivedi2/pet-help-backend/internal/config"
	"github.com/princedwivedi2/pet-help-backend/internal/logging"
	"github.com/princedwivedi2/pet-help-backend/internal/notify"
	"github.com/princedwivedi2/pet-help-backend/internal/observability"
	redisclient "github.com/princedwivedi2/pet-help-backend/internal/redis"
	"github.com/princedwivedi2/pet-help-backend/internal/vet"
)

const defaultNotifyTimeout = 3 * time.Second

var tracer = otel.Tracer("github.com/princedwivedi2/pet-help-backend/internal/appointment")

// Deps are the collaborators of Service. Locker, Cache and Notifier are
// optional.
type Deps struct {
	Repo     Repository
	Vets     vet.Directory
	Locker   redisclient.Locker
	Cache    SlotCache
	Notifier notify.Dispatcher
	Clock    clock.Clock
	Logger   zerolog.Logger
}

type Service struct {
	repo     Repository
	vets     vet.Directory
	locker   redisclient.Locker
	cache    SlotCache
	notifier notify.Dispatcher
	clock    clock.Clock
	logger   zerolog.Logger
	calc     *availability.Calculator
	cfg      config.Config
}

func NewService(deps Deps, cfg config.Config) *Service {
	if deps.Locker == nil {
		deps.Locker = redisclient.NoopLocker{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}

	return &Service{
		repo:     deps.Repo,
		vets:     deps.Vets,
		locker:   deps.Locker,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		logger:   deps.Logger,
		calc:     availability.NewCalculator(deps.Repo, cfg.Location()),
		cfg:      cfg,
	}
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	l := logging.FromContext(ctx, s.logger)
	return &l
}

// vetOwnerOf resolves the vet-side user for an appointment. A profile that has
// since been removed has no vet-side actor.
func (s *Service) vetOwnerOf(ctx context.Context, vetProfileID int64) (int64, error) {
	profile, err := s.vets.ByID(ctx, vetProfileID)
	if err != nil {
		if errors.Is(err, vet.ErrProfileNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load vet profile: %w", err)
	}
	return profile.OwnerUserID, nil
}

// slotDate is the clinic-local calendar date a start time belongs to.
func (s *Service) slotDate(t time.Time) string {
	return s.calc.DayStart(t).Format(time.DateOnly)
}

func (s *Service) invalidateSlots(ctx context.Context, vetProfileID int64, scheduledAt time.Time) {
	if s.cache == nil {
		return
	}
	date := s.slotDate(scheduledAt)
	if err := s.cache.Invalidate(ctx, vetProfileID, date); err != nil {
		s.log(ctx).Warn().Err(err).
			Int64("vet_profile_id", vetProfileID).
			Str("date", date).
			Msg("failed to invalidate slot cache")
	}
}

// dispatch delivers event to every recipient after the write has committed.
// Failures and panics are logged and counted, never returned.
func (s *Service) dispatch(ctx context.Context, recipients []int64, event string, payload map[string]any) {
	if s.notifier == nil || len(recipients) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()

	for _, recipient := range recipients {
		s.notifyOne(ctx, recipient, event, payload)
	}
}

func (s *Service) notifyOne(ctx context.Context, recipient int64, event string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			observability.NotificationFailures.WithLabelValues(event).Inc()
			s.log(ctx).Error().
				Interface("panic", r).
				Int64("recipient_user_id", recipient).
				Str("event_type", event).
				Msg("notification dispatcher panicked")
		}
	}()

	if err := s.notifier.Notify(ctx, recipient, event, payload); err != nil {
		observability.NotificationFailures.WithLabelValues(event).Inc()
		s.log(ctx).Warn().Err(err).
			Int64("recipient_user_id", recipient).
			Str("event_type", event).
			Msg("failed to send notification")
	}
}

func payloadFor(a *Appointment) map[string]any {
	p := map[string]any{
		"appointment_id":   a.PublicID.String(),
		"status":           string(a.Status),
		"scheduled_at":     a.ScheduledAt.UTC().Format(time.RFC3339),
		"duration_minutes": a.DurationMinutes,
		"vet_profile_id":   a.VetProfileID,
		"owner_user_id":    a.OwnerID,
	}
	if a.CancellationReason != nil {
		p["cancellation_reason"] = *a.CancellationReason
	}
	return p
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
