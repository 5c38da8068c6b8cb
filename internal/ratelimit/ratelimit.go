// Package ratelimit implements per-identity admission control for the
// assistant pipeline. Each identity gets two independent token buckets — a
// short window with a burst allowance and a long window without — and a
// request is admitted only when both have a token available.
//
// Bucket state lives behind the BucketStore interface so the limit holds
// across all running instances: the Redis implementation performs the
// refill-and-take read-modify-write atomically server-side, the in-process
// implementation under a per-bucket mutex.
package ratelimit

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// Window describes one token bucket: capacity tokens, refilled at
// RefillPerSec, keyed per identity by Name.
type Window struct {
	Name         string
	Capacity     float64
	RefillPerSec float64
}

// MinuteWindow builds the short window: sustained per-minute rate plus a
// burst allowance on top.
func MinuteWindow(perMinute, burst int) Window {
	return Window{
		Name:         WindowMinute,
		Capacity:     float64(perMinute + burst),
		RefillPerSec: float64(perMinute) / 60.0,
	}
}

// HourWindow builds the long window. No burst: capacity equals the rate.
func HourWindow(perHour int) Window {
	return Window{
		Name:         WindowHour,
		Capacity:     float64(perHour),
		RefillPerSec: float64(perHour) / 3600.0,
	}
}

// Decision is the outcome of one admission check. Exhaustion is a normal,
// expected outcome — it is communicated here, never as an error.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Window     string // the denying (or most constrained) window
}

// BucketStore refills and takes one token in a single atomic step.
// retryAfter is only meaningful when allowed is false.
type BucketStore interface {
	Take(ctx context.Context, key string, capacity, refillPerSec float64, now time.Time) (allowed bool, remaining float64, retryAfter time.Duration, err error)
}

// Controller checks every configured window for an identity.
type Controller struct {
	buckets    BucketStore
	windows    []Window
	rejections metric.Int64Counter
}

// NewController creates an admission controller over the given bucket store.
func NewController(buckets BucketStore, windows ...Window) *Controller {
	meter := otel.Meter("stride/ratelimit")
	rejections, _ := meter.Int64Counter("assistant.admission.rejections",
		metric.WithDescription("Assistant queries rejected by admission control"))
	return &Controller{
		buckets:    buckets,
		windows:    windows,
		rejections: rejections,
	}
}

// Consume attempts to admit one request for the identity. All windows are
// checked; the request passes only if every window had a token, and the most
// restrictive retry-after is surfaced on denial. The returned error covers
// store failures only, never exhaustion.
func (c *Controller) Consume(ctx context.Context, identity string) (Decision, error) {
	now := time.Now()
	decision := Decision{Allowed: true, Remaining: math.MaxInt32}

	for _, w := range c.windows {
		key := "ratelimit:" + identity + ":" + w.Name
		allowed, remaining, retryAfter, err := c.buckets.Take(ctx, key, w.Capacity, w.RefillPerSec, now)
		if err != nil {
			return Decision{}, err
		}

		if rem := int(remaining); rem < decision.Remaining {
			decision.Remaining = rem
			if decision.Allowed {
				decision.Window = w.Name
			}
		}
		if !allowed {
			decision.Allowed = false
			if retryAfter > decision.RetryAfter {
				decision.RetryAfter = retryAfter
				decision.Window = w.Name
			}
		}
	}

	if !decision.Allowed {
		decision.Remaining = 0
		c.rejections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("window", decision.Window)))
	}
	return decision, nil
}

// retryAfterFor computes how long until one full token accumulates.
func retryAfterFor(tokens, refillPerSec float64) time.Duration {
	if refillPerSec <= 0 {
		return time.Minute
	}
	need := 1.0 - tokens
	if need < 0 {
		need = 0
	}
	return time.Duration(math.Ceil(need/refillPerSec*1000)) * time.Millisecond
}
