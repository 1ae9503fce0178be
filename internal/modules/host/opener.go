package host

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
)

var ErrInvalidURL = errors.New("invalid deep link")

// LogOpener records deep links instead of handing them to a browser.
type LogOpener struct {
	log *slog.Logger
}

func NewLogOpener(log *slog.Logger) *LogOpener {
	return &LogOpener{log: log.With(slog.String("component", "host_opener"))}
}

func (o *LogOpener) OpenURL(_ context.Context, link string) error {
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" {
		return ErrInvalidURL
	}
	o.log.Info("opening deep link", slog.String("url", u.String()))
	return nil
}
