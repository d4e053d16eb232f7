package retry

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// On decides which failures are worth another attempt. The condition names
// follow Envoy's retry_on values.
type On struct {
	serverError     bool
	gatewayError    bool
	connectFailure  bool
	retriable4xx    bool
	tooManyRequests bool
	statusCodes     []int
}

// NewDefaultRetryOn suits idempotent deliveries such as the run callback.
func NewDefaultRetryOn() *On {
	return &On{
		gatewayError:    true,
		connectFailure:  true,
		retriable4xx:    true,
		tooManyRequests: true,
	}
}

// NewRetryOnFromString parses a comma separated list such as
// "5xx,connect-failure,429".
func NewRetryOnFromString(s string) (*On, error) {
	o := &On{}
	for _, condition := range strings.Split(s, ",") {
		switch condition = strings.TrimSpace(condition); condition {
		case "":
		case "5xx":
			o.serverError = true
		case "gateway-error":
			o.gatewayError = true
		case "connect-failure":
			o.connectFailure = true
		case "retriable-4xx":
			o.retriable4xx = true
		case "too-many-requests":
			o.tooManyRequests = true
		default:
			statusCode, err := strconv.Atoi(condition)
			if err != nil {
				return nil, xerrors.Errorf("invalid retry condition: %s", condition)
			}
			o.statusCodes = append(o.statusCodes, statusCode)
		}
	}
	return o, nil
}

func (o *On) CheckResponse(response *http.Response) bool {
	code := response.StatusCode
	if (o.serverError && code >= 500 && code < 600) ||
		(o.gatewayError && code >= 502 && code < 505) ||
		(o.retriable4xx && code == http.StatusConflict) ||
		(o.tooManyRequests && code == http.StatusTooManyRequests) {
		return true
	}

	for _, i := range o.statusCodes {
		if i == code {
			return true
		}
	}

	return false
}

func (o *On) CheckError(err error) bool {
	if !o.connectFailure && !o.serverError {
		return false
	}

	type temporary interface{ Temporary() bool }
	var terr temporary
	return (errors.As(err, &terr) && terr.Temporary()) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
