package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/xerrors"

	"snapdiff/internal/retry"
)

// Notifier delivers a run summary to a callback URL as JSON.
type Notifier struct {
	URL    string
	Method string
	Client *http.Client
}

func NewNotifier(url string) *Notifier {
	return &Notifier{
		URL:    url,
		Method: http.MethodPost,
		Client: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &retry.Transport{
				Base:          http.DefaultTransport,
				RetryStrategy: retry.NewExponentialBackOff(10*time.Millisecond, 1*time.Second, 3, nil),
				RetryOn:       retry.NewDefaultRetryOn(),
			},
		},
	}
}

func (n *Notifier) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("failed to marshal callback payload: %w", err)
	}

	method := n.Method
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, n.URL, bytes.NewReader(data))
	if err != nil {
		return xerrors.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode >= http.StatusMultipleChoices {
		return xerrors.Errorf("callback %s responded %s", n.URL, response.Status)
	}
	return nil
}
