// Package reconciler is where both delivery channels meet. Every inbound
// message passes through Receive on the session loop, which makes the ledger's
// check-then-mark atomic per message without any locking.
package reconciler

import (
	"context"
	"log/slog"

	"pushsync/internal/modules/notification"
)

type Outcome int

const (
	OutcomeDuplicate Outcome = iota
	OutcomeSuppressed
	OutcomeConsumed
	OutcomeHostPresented
	OutcomeDisplayed
	OutcomeDisplayFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeConsumed:
		return "consumed"
	case OutcomeHostPresented:
		return "host_presented"
	case OutcomeDisplayed:
		return "displayed"
	case OutcomeDisplayFailed:
		return "display_failed"
	default:
		return "unknown"
	}
}

type Ledger interface {
	IsProcessed(messageID string) bool
	MarkProcessed(messageID string)
}

type Confirmer interface {
	ConfirmDelivery(msg notification.Message)
	ConfirmAction(msg notification.Message, action notification.Action)
}

// Conditions expose the host state the stream suppression rule depends on.
type Conditions interface {
	Background() bool
	NotificationFallback() bool
}

type Options struct {
	FallbackTitle string
	FallbackBody  string
}

type Reconciler struct {
	ledger    Ledger
	confirm   Confirmer
	presenter notification.Presenter
	opener    notification.URLOpener
	cond      Conditions
	opts      Options
	log       *slog.Logger

	handler notification.Handler
}

func New(
	ledger Ledger,
	confirm Confirmer,
	presenter notification.Presenter,
	opener notification.URLOpener,
	cond Conditions,
	opts Options,
	log *slog.Logger,
) *Reconciler {
	return &Reconciler{
		ledger:    ledger,
		confirm:   confirm,
		presenter: presenter,
		opener:    opener,
		cond:      cond,
		opts:      opts,
		log:       log.With(slog.String("component", "channel_reconciler")),
	}
}

// SetHandler installs the application handler; nil removes it.
func (r *Reconciler) SetHandler(h notification.Handler) {
	r.handler = h
}

// Receive runs one inbound message through dedup and disposition. presented
// tells whether the host already showed the notification banner itself.
func (r *Reconciler) Receive(ctx context.Context, msg notification.Message, presented bool) Outcome {
	log := r.log.With(
		slog.String("op", "Reconciler.Receive"),
		slog.String("messageId", msg.ID),
		slog.String("source", msg.Source.String()),
	)

	if r.ledger.IsProcessed(msg.ID) {
		log.Info("duplicate message dropped")
		return OutcomeDuplicate
	}

	if msg.Source == notification.SourceStream && r.cond.Background() && r.cond.NotificationFallback() {
		// Left unmarked so the notification-channel copy is displayed.
		log.Info("stream display suppressed in background")
		return OutcomeSuppressed
	}

	r.ledger.MarkProcessed(msg.ID)
	r.confirm.ConfirmDelivery(msg)

	if r.handler != nil && r.handOver(ctx, msg, log) {
		log.Info("message consumed by handler")
		return OutcomeConsumed
	}

	if presented {
		r.confirmShow(ctx, msg)
		return OutcomeHostPresented
	}

	if err := r.presenter.PresentLocalNotification(ctx, r.localNotification(msg)); err != nil {
		log.Error("failed to present local notification", slog.String("error", err.Error()))
		return OutcomeDisplayFailed
	}
	r.confirmShow(ctx, msg)
	log.Info("message displayed")
	return OutcomeDisplayed
}

// Activated reports a user interaction with a delivered message. Click also
// opens the deep link the payload carries.
func (r *Reconciler) Activated(ctx context.Context, msg notification.Message, action notification.Action) {
	log := r.log.With(slog.String("op", "Reconciler.Activated"), slog.String("messageId", msg.ID), slog.String("action", string(action)))
	if action == "" {
		action = notification.ActionClick
	}
	r.confirm.ConfirmAction(msg, action)

	if action != notification.ActionClick {
		return
	}
	link := msg.URL()
	if link == "" || r.opener == nil {
		return
	}
	if err := r.opener.OpenURL(ctx, link); err != nil {
		log.Warn("failed to open deep link", slog.String("url", link), slog.String("error", err.Error()))
	}
}

func (r *Reconciler) handOver(ctx context.Context, msg notification.Message, log *slog.Logger) (consumed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("handler panicked", slog.Any("panic", rec))
			consumed = false
		}
	}()
	return r.handler(ctx, msg)
}

func (r *Reconciler) confirmShow(ctx context.Context, msg notification.Message) {
	if !msg.Notification.Displayable() {
		return
	}
	if !r.presenter.DisplayPermitted(ctx) {
		r.log.Debug("display permission missing, Show not confirmed", slog.String("messageId", msg.ID))
		return
	}
	r.confirm.ConfirmAction(msg, notification.ActionShow)
}

func (r *Reconciler) localNotification(msg notification.Message) notification.LocalNotification {
	local := notification.LocalNotification{
		ID:      msg.ID,
		Title:   r.opts.FallbackTitle,
		Body:    r.opts.FallbackBody,
		Payload: msg.Payload,
	}
	if n := msg.Notification; n != nil {
		if n.Title != "" {
			local.Title = n.Title
		}
		if n.Body != "" {
			local.Body = n.Body
		}
		local.Sound = n.Sound
	}
	return local
}
