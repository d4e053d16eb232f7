package retry

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

// Transport retries requests according to RetryOn and RetryStrategy. Requests
// with a body are only retried when the body can be rewound via GetBody.
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
	RetryOn       *On
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	ctx := request.Context()

	for retryCount := uint(0); ; retryCount++ {
		response, err := t.base().RoundTrip(request)

		retriable := t.RetryOn != nil &&
			((err != nil && t.RetryOn.CheckError(err)) || (err == nil && t.RetryOn.CheckResponse(response)))
		if !retriable {
			return response, err
		}

		sleep, ok := t.retryStrategy().Sleep(retryCount)
		if !ok {
			return response, err
		}
		if err == nil {
			sleep = max(sleep, retryAfter(response))
		}

		next, rewindErr := rewind(request)
		if rewindErr != nil {
			return response, err
		}
		if response != nil {
			_, _ = io.Copy(io.Discard, response.Body)
			_ = response.Body.Close()
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		request = next
	}
}

func rewind(request *http.Request) (*http.Request, error) {
	if request.Body == nil || request.Body == http.NoBody {
		return request, nil
	}
	if request.GetBody == nil {
		return nil, xerrors.New("request body cannot be rewound")
	}

	body, err := request.GetBody()
	if err != nil {
		return nil, xerrors.Errorf("failed to rewind request body: %w", err)
	}
	next := request.Clone(request.Context())
	next.Body = body
	return next, nil
}

// retryAfter reads a delay-seconds Retry-After header.
func retryAfter(response *http.Response) time.Duration {
	seconds, err := strconv.Atoi(response.Header.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
