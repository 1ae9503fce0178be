package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"pushsync/config"
	"pushsync/pkg/lib/pushsender"
)

const defaultSound = "default"

type FCMSender struct {
	client *messaging.Client
	log    *slog.Logger
}

func NewFCMSender(ctx context.Context, cfg config.FCMConfig, logger *slog.Logger) (*FCMSender, error) {
	log := logger.With(slog.String("component", "FCMSender"))

	if cfg.ProjectID == "" && cfg.ServiceAccountKeyJSONPath == "" {
		log.Error("Either ProjectID (for ADC) or ServiceAccountKeyJSONPath must be provided for FCM")
		return nil, errors.New("FCM configuration error: ProjectID or ServiceAccountKeyJSONPath is missing")
	}

	var opts []option.ClientOption
	if cfg.ServiceAccountKeyJSONPath != "" {
		log.Info("Using service account key from file for FCM authentication", "path", cfg.ServiceAccountKeyJSONPath)
		opts = append(opts, option.WithCredentialsFile(cfg.ServiceAccountKeyJSONPath))
	} else {
		log.Info("Service account key path not provided, using Application Default Credentials for FCM")
	}

	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		log.Error("Error initializing Firebase App for FCM", "error", err, "projectID", cfg.ProjectID)
		return nil, fmt.Errorf("initializing Firebase App: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		log.Error("Error getting Firebase Messaging client", "error", err)
		return nil, fmt.Errorf("getting Firebase Messaging client: %w", err)
	}

	log.Info("FCMSender initialized successfully")
	return &FCMSender{
		client: messagingClient,
		log:    log,
	}, nil
}

// BuildMulticast maps msg onto an FCM multicast. The message id is placed in
// the data payload and in the APNs payload next to aps.
func BuildMulticast(msg pushsender.PushMessage) *messaging.MulticastMessage {
	sound := msg.Sound
	if sound == "" {
		sound = defaultSound
	}

	data := make(map[string]string, len(msg.Data)+2)
	for k, v := range msg.Data {
		data[k] = v
	}
	custom := map[string]interface{}{}
	if msg.MessageID != "" {
		data["messageId"] = msg.MessageID
		custom["messageId"] = msg.MessageID
	}
	if msg.TraceID != "" {
		data["mfTraceId"] = msg.TraceID
		custom["mfTraceId"] = msg.TraceID
	}

	n := &messaging.Notification{
		Title: msg.Title,
		Body:  msg.Body,
	}
	if msg.ImageURL != nil && *msg.ImageURL != "" {
		n.ImageURL = *msg.ImageURL
	}

	return &messaging.MulticastMessage{
		Notification: n,
		Data:         data,
		Tokens:       msg.Tokens,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: sound,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: msg.Title,
						Body:  msg.Body,
					},
					Sound: sound,
				},
				CustomData: custom,
			},
		},
	}
}

func (s *FCMSender) Send(ctx context.Context, msg pushsender.PushMessage) (*pushsender.SendResult, error) {
	op := "FCMSender.Send"
	log := s.log.With(slog.String("op", op), slog.String("messageId", msg.MessageID))

	if len(msg.Tokens) == 0 {
		log.Warn("No device tokens provided for sending push notification")
		return &pushsender.SendResult{}, nil
	}

	br, err := s.client.SendEachForMulticast(ctx, BuildMulticast(msg))
	if err != nil {
		log.Error("Error sending multicast message via FCM", "error", err)
		return &pushsender.SendResult{FailureCount: len(msg.Tokens), FailedTokens: msg.Tokens}, fmt.Errorf("fcm send multicast: %w", err)
	}

	result := &pushsender.SendResult{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
	}

	if br.FailureCount > 0 {
		log.Warn("Some messages failed to send via FCM", "success_count", br.SuccessCount, "failure_count", br.FailureCount)
		for idx, resp := range br.Responses {
			if resp.Success || idx >= len(msg.Tokens) {
				continue
			}
			result.FailedTokens = append(result.FailedTokens, msg.Tokens[idx])
			errMsg := "unknown FCM send error"
			if resp.Error != nil {
				errMsg = resp.Error.Error()
			}
			log.Warn("FCM send failure details",
				slog.String("error_code", errMsg),
				slog.String("message_id", resp.MessageID),
			)
		}
	}

	if br.SuccessCount > 0 {
		log.Info("FCM multicast message processing summary", "success_count", br.SuccessCount, "failure_count", br.FailureCount)
	}
	return result, nil
}

func (s *FCMSender) Ping(ctx context.Context) error {
	op := "FCMSender.Ping"
	log := s.log.With(slog.String("op", op))

	if s.client == nil {
		log.Error("FCM client is not initialized")
		return errors.New("FCM client not initialized, check NewFCMSender logs for errors")
	}

	log.Info("FCM Ping check successful (client initialized)")
	return nil
}
