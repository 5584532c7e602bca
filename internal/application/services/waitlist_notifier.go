package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/entities"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/providers"
)

const notifyTimeout = 5 * time.Second

// WaitlistNotifier listens for cancellations and offers the freed time to
// the waitlist. It also expires lapsed entries on a fixed interval.
type WaitlistNotifier struct {
	waitlist     *WaitlistService
	subscriber   providers.EventSubscriber
	channel      string
	cleanupEvery time.Duration
}

// NewWaitlistNotifier creates a new notifier. subscriber may be nil, in
// which case only the periodic cleanup runs.
func NewWaitlistNotifier(waitlist *WaitlistService, subscriber providers.EventSubscriber, channel string, cleanupEvery time.Duration) *WaitlistNotifier {
	if channel == "" {
		channel = providers.EventChannelAppointments
	}
	if cleanupEvery <= 0 {
		cleanupEvery = 5 * time.Minute
	}
	return &WaitlistNotifier{
		waitlist:     waitlist,
		subscriber:   subscriber,
		channel:      channel,
		cleanupEvery: cleanupEvery,
	}
}

// Run blocks until ctx is done. A failed subscription leaves the periodic
// cleanup running.
func (n *WaitlistNotifier) Run(ctx context.Context) {
	var events <-chan *entities.BookingEvent
	if n.subscriber != nil {
		ch, err := n.subscriber.Subscribe(ctx, n.channel)
		if err != nil {
			log.Error().Err(err).Str("channel", n.channel).Msg("Failed to subscribe to booking events, waitlist notifications off")
		}
		events = ch
	}

	ticker := time.NewTicker(n.cleanupEvery)
	defer ticker.Stop()

	log.Info().Str("channel", n.channel).Dur("cleanup_every", n.cleanupEvery).Msg("Waitlist notifier started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping waitlist notifier")
			return
		case event, ok := <-events:
			if !ok {
				log.Warn().Str("channel", n.channel).Msg("Booking event subscription closed, waitlist notifications paused")
				events = nil
				continue
			}
			n.handleEvent(ctx, event)
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
			if _, err := n.waitlist.CleanupExpired(cleanupCtx); err != nil {
				log.Warn().Err(err).Msg("Waitlist cleanup failed")
			}
			cancel()
		}
	}
}

func (n *WaitlistNotifier) handleEvent(ctx context.Context, event *entities.BookingEvent) {
	if event == nil || event.Type != entities.BookingEventTypeCancelled {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if _, err := n.waitlist.NotifyAvailability(notifyCtx, event.DoctorID, event.StartTime, event.EndTime); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", event.ID).
			Str("doctor_id", event.DoctorID).
			Msg("Failed to notify waitlist of freed time")
	}
}
