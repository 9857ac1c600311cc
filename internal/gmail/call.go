package gmail

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/googleapi"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

// call runs one API request: quota wait, a deadline per attempt, retry on
// retryable failures, and a metric plus span per logical call. id names the
// item for error reporting.
func call[T any](ctx context.Context, c *Client, op, id string, units int, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := instrumentation.StartMailboxSpan(ctx, op, attribute.String("mailbox.message_id", id))
	start := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = defaultMaxBackoff

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		if err := c.limiter.WaitN(ctx, units); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		res, err := fn(attemptCtx)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if err == nil {
			return res, nil
		}
		if !timedOut && !isRetryable(err) {
			return res, backoff.Permanent(err)
		}
		c.logger.Debug("retrying mailbox call",
			logging.Operation(op),
			slog.Int("attempt", attempt),
			logging.Err(err))
		if d, ok := retryAfter(err); ok {
			return res, &backoff.RetryAfterError{Duration: d}
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))

	if err != nil {
		err = mapError(op, id, err)
	}
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordMailboxOperation(ctx, op, status, time.Since(start))
	instrumentation.EndSpan(span, err)
	return res, err
}

// isRetryable reports whether err is a rate limit or transient server error.
func isRetryable(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests:
		return true
	case gerr.Code >= 500:
		return true
	case gerr.Code == http.StatusForbidden:
		return isRateLimitReason(gerr)
	}
	return false
}

func isRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(err error) (time.Duration, bool) {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Header == nil {
		return 0, false
	}
	secs, convErr := strconv.Atoi(gerr.Header.Get("Retry-After"))
	if convErr != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// mapError translates API failures onto the mailbox error taxonomy. Errors
// that carry no taxonomy kind are wrapped with the operation name.
func mapError(op, id string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return mailbox.NewError(mailbox.ErrAuthExpired, op, id, err)
		case gerr.Code == http.StatusNotFound:
			return mailbox.NewError(mailbox.ErrNotFound, op, id, err)
		case gerr.Code == http.StatusTooManyRequests,
			gerr.Code == http.StatusForbidden && isRateLimitReason(gerr):
			return mailbox.NewError(mailbox.ErrRateLimited, op, id, err)
		}
	}
	// The token source reports a dead refresh token before any request is
	// sent; keep the vault's classification.
	if errors.Is(err, mailbox.ErrAuthExpired) || errors.Is(err, mailbox.ErrNoConnection) {
		return err
	}
	if id != "" {
		return errors.Wrapf(err, "%s %s", op, id)
	}
	return errors.Wrap(err, op)
}
