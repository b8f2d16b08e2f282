package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type FCMSender struct {
	client *messaging.Client
}

func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) SendMulticast(ctx context.Context, tokens []string, p Payload) (Result, error) {
	var total Result
	for start := 0; start < len(tokens); start += MaxTokensPerCall {
		end := min(start+MaxTokensPerCall, len(tokens))
		chunk := tokens[start:end]

		br, err := s.client.SendEachForMulticast(ctx, buildMessage(chunk, p))
		if err != nil {
			return total, fmt.Errorf("multicast to %d tokens: %w", len(chunk), err)
		}

		res := Result{SuccessCount: br.SuccessCount, FailureCount: br.FailureCount}
		for i, resp := range br.Responses {
			tr := TokenResult{Token: chunk[i], Success: resp.Success, Err: resp.Error}
			if resp.Error != nil && messaging.IsUnregistered(resp.Error) {
				tr.Unregistered = true
			}
			res.Responses = append(res.Responses, tr)
		}
		total.merge(res)
	}
	return total, nil
}

func buildMessage(tokens []string, p Payload) *messaging.MulticastMessage {
	androidBody := p.Body
	if p.AndroidBody != "" {
		androidBody = p.AndroidBody
	}
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   p.Data,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Data:     p.Data,
			Notification: &messaging.AndroidNotification{
				Title:       p.Title,
				Body:        androidBody,
				ChannelID:   p.ChannelID,
				ClickAction: p.ClickAction,
			},
		},
	}
}
