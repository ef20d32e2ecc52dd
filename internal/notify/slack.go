package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/TobiSchelling/PaperDigest/internal/httputil"
)

// ErrDeliveryFailed wraps any failure to post a digest.
var ErrDeliveryFailed = errors.New("digest delivery failed")

// SlackOptions configures a Slack notifier.
type SlackOptions struct {
	Token      string
	Channel    string
	APIURL     string // empty means the public Slack API
	Timeout    time.Duration
	MaxRetries int
	ChunkSize  int
	Logger     *slog.Logger
}

// Slack posts digests through the Slack Web API.
type Slack struct {
	api        *slack.Client
	channel    string
	maxRetries int
	chunkSize  int
	log        *slog.Logger
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOptions) *Slack {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	options := []slack.Option{slack.OptionHTTPClient(&http.Client{Timeout: timeout})}
	if opts.APIURL != "" {
		options = append(options, slack.OptionAPIURL(opts.APIURL))
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Slack{
		api:        slack.New(opts.Token, options...),
		channel:    opts.Channel,
		maxRetries: opts.MaxRetries,
		chunkSize:  chunk,
		log:        log,
	}
}

// AuthTest verifies the token and returns the bot user name.
func (s *Slack) AuthTest(ctx context.Context) (string, error) {
	resp, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("slack auth.test: %w", err)
	}
	return resp.User, nil
}

// Send posts a digest, split into as many messages as needed. Messages are
// sent in order; the first failure stops the delivery.
func (s *Slack) Send(ctx context.Context, d Digest) error {
	msgs := d.SlackMessages(s.chunkSize)
	for i, text := range msgs {
		if err := s.post(ctx, text); err != nil {
			return fmt.Errorf("%w: message %d of %d: %v", ErrDeliveryFailed, i+1, len(msgs), err)
		}
	}
	s.log.Info("digest delivered", "channel", s.channel, "messages", len(msgs), "papers", len(d.Papers))
	return nil
}

// SendError posts a short failure notice. Callers treat it as best-effort.
func (s *Slack) SendError(ctx context.Context, date string, runErr error) error {
	text := fmt.Sprintf(":warning: *Paper digest failed* (%s)\n```%s```", date, slackEscaper.Replace(runErr.Error()))
	if err := s.post(ctx, text); err != nil {
		return fmt.Errorf("%w: error notice: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *Slack) post(ctx context.Context, text string) error {
	return httputil.Retry(ctx, s.maxRetries+1, func(ctx context.Context) error {
		_, _, err := s.api.PostMessageContext(ctx, s.channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionDisableLinkUnfurl(),
		)
		return classify(err)
	})
}

// classify marks Slack errors for Retry: rate limits wait for Retry-After,
// server and network errors back off, API errors are permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var limited *slack.RateLimitedError
	if errors.As(err, &limited) {
		return httputil.After(limited.RetryAfter, err)
	}

	var status slack.StatusCodeError
	if errors.As(err, &status) {
		if status.Code >= http.StatusInternalServerError {
			return err
		}
		return httputil.Permanent(err)
	}
	var statusPtr *slack.StatusCodeError
	if errors.As(err, &statusPtr) {
		if statusPtr.Code >= http.StatusInternalServerError {
			return err
		}
		return httputil.Permanent(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err
	}
	return httputil.Permanent(err)
}
