// Package push delivers multicast notifications to device tokens.
package push

import (
	"context"
	"errors"

	"complaint-portal/pkg/logging"
)

// ErrProviderUnavailable is returned while the provider breaker is open.
var ErrProviderUnavailable = errors.New("push provider unavailable")

const (
	TypeCommunityUpdate = "community_update"
	TypeComplaintUpdate = "complaint_update"

	ChannelCommunityUpdates = "community_updates"
	ClickCommunityUpdate    = "COMMUNITY_UPDATE_OPENED"
	ChannelComplaintUpdates = "complaint_updates"
	ClickComplaintUpdate    = "COMPLAINT_UPDATE_OPENED"

	// MaxTokensPerCall is the provider's multicast limit.
	MaxTokensPerCall = 500
)

type Payload struct {
	Title string
	Body  string
	// AndroidBody overrides Body on Android devices when set.
	AndroidBody string
	ChannelID   string
	ClickAction string
	Data        map[string]string
}

type TokenResult struct {
	Token        string
	Success      bool
	Err          error
	Unregistered bool
}

type Result struct {
	SuccessCount int
	FailureCount int
	Responses    []TokenResult
}

func (r *Result) merge(other Result) {
	r.SuccessCount += other.SuccessCount
	r.FailureCount += other.FailureCount
	r.Responses = append(r.Responses, other.Responses...)
}

// FailedTokens lists tokens whose delivery failed.
func (r Result) FailedTokens() []string {
	var out []string
	for _, resp := range r.Responses {
		if !resp.Success {
			out = append(out, resp.Token)
		}
	}
	return out
}

type Sender interface {
	SendMulticast(ctx context.Context, tokens []string, p Payload) (Result, error)
}

// LogSender only logs what it would send. Used without provider credentials.
type LogSender struct{}

func (LogSender) SendMulticast(ctx context.Context, tokens []string, p Payload) (Result, error) {
	logging.Ctx(ctx).Info().
		Int("tokens", len(tokens)).
		Str("title", p.Title).
		Str("body", p.Body).
		Interface("data", p.Data).
		Msg("push (log only)")

	res := Result{SuccessCount: len(tokens), Responses: make([]TokenResult, len(tokens))}
	for i, t := range tokens {
		res.Responses[i] = TokenResult{Token: t, Success: true}
	}
	return res, nil
}
