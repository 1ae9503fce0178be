// Command pushprobe sends one test push through FCM. The message id it
// carries can be pushed on the stream as well to check that a device shows
// the message only once.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"pushsync/config"
	"pushsync/pkg/lib/pushsender"
	"pushsync/pkg/lib/pushsender/fcm"
)

const (
	TokenFlag   = "token"
	IDFlag      = "id"
	TraceFlag   = "trace"
	TitleFlag   = "title"
	BodyFlag    = "body"
	SoundFlag   = "sound"
	URLFlag     = "url"
	ConfigFlag  = "config"
	TimeoutFlag = "timeout"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	app := &cli.App{
		Name:  "pushprobe",
		Usage: "Send a test push notification carrying a message id",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     TokenFlag,
				Aliases:  []string{"t"},
				Usage:    "FCM registration token (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  IDFlag,
				Usage: "Message id, random when empty",
			},
			&cli.StringFlag{
				Name:  TraceFlag,
				Usage: "Trace id forwarded as mfTraceId",
			},
			&cli.StringFlag{
				Name:  TitleFlag,
				Value: "pushsync probe",
			},
			&cli.StringFlag{
				Name:  BodyFlag,
				Value: "Test message",
			},
			&cli.StringFlag{
				Name: SoundFlag,
			},
			&cli.StringFlag{
				Name:  URLFlag,
				Usage: "Deep link placed in data.url",
			},
			&cli.StringFlag{
				Name:    ConfigFlag,
				Aliases: []string{"c"},
				Usage:   "Config file with the fcm_config section",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.DurationFlag{
				Name:  TimeoutFlag,
				Value: 15 * time.Second,
			},
		},
		Action: func(cCtx *cli.Context) error {
			return run(cCtx, log)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("pushprobe failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cCtx *cli.Context, log *slog.Logger) error {
	cfg := config.Default()
	if path := cCtx.String(ConfigFlag); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(TimeoutFlag))
	defer cancel()

	sender, err := fcm.NewFCMSender(ctx, cfg.FCMConfig, log)
	if err != nil {
		return err
	}

	msg := probeMessage(cCtx)
	res, err := sender.Send(ctx, msg)
	if err != nil {
		return err
	}

	fmt.Fprintf(cCtx.App.Writer, "messageId=%s success=%d failure=%d\n", msg.MessageID, res.SuccessCount, res.FailureCount)
	for _, t := range res.FailedTokens {
		fmt.Fprintf(cCtx.App.Writer, "failed token: %s\n", t)
	}
	if res.SuccessCount == 0 {
		return fmt.Errorf("no device accepted message %s", msg.MessageID)
	}
	return nil
}

func probeMessage(cCtx *cli.Context) pushsender.PushMessage {
	id := cCtx.String(IDFlag)
	if id == "" {
		id = uuid.NewString()
	}
	msg := pushsender.PushMessage{
		MessageID: id,
		TraceID:   cCtx.String(TraceFlag),
		Title:     cCtx.String(TitleFlag),
		Body:      cCtx.String(BodyFlag),
		Sound:     cCtx.String(SoundFlag),
		Tokens:    cCtx.StringSlice(TokenFlag),
	}
	if u := cCtx.String(URLFlag); u != "" {
		msg.Data = map[string]string{"url": u}
	}
	return msg
}
