package retry

import (
	"errors"
	"math/rand/v2"
	"time"

	"golang.org/x/exp/constraints"
)

// Strategy returns how long to wait before retry number n (zero based), or
// false once no more retries are allowed.
type Strategy interface {
	Sleep(n uint) (time.Duration, bool)
}

type never struct{}

func NewNever() Strategy {
	return never{}
}

func (never) Sleep(uint) (time.Duration, bool) {
	return 0, false
}

// Entropy picks a value in [0, n). It is replaceable for tests.
type Entropy func(n int64) int64

type exponentialBackOff struct {
	base          time.Duration
	max           time.Duration
	maxRetryCount uint
	entropy       Entropy
}

// NewExponentialBackOff sleeps a random duration below base*2^n, capped at
// max ("full jitter"), for at most maxRetryCount retries.
func NewExponentialBackOff(base time.Duration, max time.Duration, maxRetryCount uint, entropy Entropy) Strategy {
	if entropy == nil {
		entropy = rand.Int64N
	}
	return &exponentialBackOff{
		base:          base,
		max:           max,
		maxRetryCount: maxRetryCount,
		entropy:       entropy,
	}
}

func (eb *exponentialBackOff) Sleep(retryCount uint) (time.Duration, bool) {
	if retryCount >= eb.maxRetryCount {
		return 0, false
	}

	ceiling := int64(eb.max)
	if retryCount < 63 {
		if delay, err := checkedMul(int64(1)<<retryCount, int64(eb.base)); err == nil {
			ceiling = lesser(delay, ceiling)
		}
	}
	if ceiling <= 0 {
		return 0, true
	}
	return time.Duration(eb.entropy(ceiling)), true
}

func lesser[T constraints.Ordered](l T, r T) T {
	if l > r {
		return r
	}
	return l
}

var ErrOverflow = errors.New("overflow")

func checkedMul[T constraints.Signed](l T, r T) (T, error) {
	if l == 0 || r == 0 {
		return 0, nil
	}
	product := l * r
	if product/r != l || (l < 0) != (r < 0) && product > 0 {
		return 0, ErrOverflow
	}
	return product, nil
}
