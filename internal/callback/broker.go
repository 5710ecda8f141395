// ABOUTME: Correlation broker matching asynchronous callback replies to waiting handlers
// ABOUTME: Single-slot mailboxes keyed by correlation id, swept on a bounded age

package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/replgate/internal/config"
)

var (
	// ErrAwaitTimeout indicates no reply arrived within the await window.
	ErrAwaitTimeout = errors.New("timed out waiting for callback reply")
	// ErrUnknownCorrelation indicates no mailbox exists for the correlation id.
	ErrUnknownCorrelation = errors.New("unknown correlation id")
	// ErrTokenMismatch indicates the token does not match the pending callback,
	// including replays of an already-consumed token.
	ErrTokenMismatch = errors.New("token does not match pending callback")
	// ErrHostFailure wraps an error string the host reported in its reply.
	ErrHostFailure = errors.New("host reported failure")
)

// Reply is a stored callback result awaiting its poller.
type Reply struct {
	Result     any
	Err        string
	ReceivedAt time.Time
}

// mailbox fuses the pending-token and stored-reply sides of one callback
// exchange. The token side is consumed exactly once by the first matching
// attempt; the reply side by the first poller.
type mailbox struct {
	jti      string
	issuedAt time.Time
	reply    *Reply
	replyAt  time.Time
}

// Broker correlates outbound host invocations with their asynchronous
// replies. A background goroutine sweeps mailboxes past the bounded age.
type Broker struct {
	mu        sync.Mutex
	mailboxes map[string]*mailbox

	issuer       *tokenIssuer
	tokenTTL     time.Duration
	pollInterval time.Duration
	awaitTimeout time.Duration

	done   chan struct{}
	closed bool
	logger *slog.Logger
}

// New creates a broker with a fresh per-process signing secret and starts
// the mailbox sweeper.
func New(cfg config.CallbackConfig, logger *slog.Logger) (*Broker, error) {
	issuer, err := newTokenIssuer()
	if err != nil {
		return nil, err
	}

	b := &Broker{
		mailboxes:    make(map[string]*mailbox),
		issuer:       issuer,
		tokenTTL:     cfg.TokenTTL,
		pollInterval: cfg.PollInterval,
		awaitTimeout: cfg.AwaitTimeout,
		done:         make(chan struct{}),
		logger:       logger.With("component", "callback"),
	}
	go b.sweep()
	return b, nil
}

// Issue mints a single-use token for the correlation id and opens its
// mailbox. Issuing again for the same id replaces the pending token.
func (b *Broker) Issue(correlationID string) (string, error) {
	jti := uuid.New().String()
	token, err := b.issuer.Generate(correlationID, jti, b.tokenTTL)
	if err != nil {
		return "", fmt.Errorf("signing callback token: %w", err)
	}

	b.mu.Lock()
	b.mailboxes[correlationID] = &mailbox{jti: jti, issuedAt: time.Now()}
	b.mu.Unlock()

	b.logger.Debug("issued callback token", "request_id", correlationID)
	return token, nil
}

// SubmitReply validates the token and stores the reply for the waiting
// poller. The stored token id is consumed by the first attempt regardless of
// outcome, so replaying a token always fails.
func (b *Broker) SubmitReply(correlationID, token string, result any, errText string) error {
	sub, jti, err := b.issuer.Verify(token)
	if err != nil {
		return err
	}
	if sub != correlationID {
		return fmt.Errorf("%w: token subject %q", ErrTokenMismatch, sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.mailboxes[correlationID]
	if !ok {
		return ErrUnknownCorrelation
	}

	// Consume before the verdict: win or lose, this jti is spent.
	stored := mb.jti
	mb.jti = ""

	if stored == "" {
		return fmt.Errorf("%w: token already used", ErrTokenMismatch)
	}
	if stored != jti {
		return fmt.Errorf("%w: superseded token", ErrTokenMismatch)
	}

	now := time.Now()
	mb.reply = &Reply{Result: result, Err: errText, ReceivedAt: now}
	mb.replyAt = now
	b.logger.Info("callback reply stored", "request_id", correlationID, "has_error", errText != "")
	return nil
}

// SubmitReplyFallback stores a reply authenticated by the standard request
// gate instead of a callback token. It bypasses the single-use guarantee, so
// it is accepted only for an existing mailbox and logged loudly.
func (b *Broker) SubmitReplyFallback(correlationID string, result any, errText string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.mailboxes[correlationID]
	if !ok {
		return ErrUnknownCorrelation
	}

	b.logger.Warn("callback reply accepted without token",
		"request_id", correlationID,
		"auth", "apikey-fallback")

	now := time.Now()
	mb.reply = &Reply{Result: result, Err: errText, ReceivedAt: now}
	mb.replyAt = now
	return nil
}

// Await polls for the reply until it arrives, the timeout elapses, or ctx is
// cancelled. A timeout of zero uses the configured default. The reply is
// consumed by the first successful poll; its error string, if set, is
// returned wrapped in ErrHostFailure.
func (b *Broker) Await(ctx context.Context, correlationID string, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = b.awaitTimeout
	}

	if result, ok, err := b.takeReply(correlationID); ok {
		return result, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			// The mailbox stays: a late reply is still stored and the
			// sweeper evicts it if nobody ever comes back.
			return nil, ErrAwaitTimeout
		case <-ticker.C:
			if result, ok, err := b.takeReply(correlationID); ok {
				return result, err
			}
		}
	}
}

// takeReply consumes a stored reply, deleting the whole mailbox.
func (b *Broker) takeReply(correlationID string) (any, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.mailboxes[correlationID]
	if !ok || mb.reply == nil {
		return nil, false, nil
	}
	reply := mb.reply
	delete(b.mailboxes, correlationID)

	if reply.Err != "" {
		return nil, true, fmt.Errorf("%w: %s", ErrHostFailure, reply.Err)
	}
	return reply.Result, true, nil
}

// Pending returns the number of open mailboxes.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mailboxes)
}

// sweep runs in a background goroutine, periodically evicting mailboxes
// past the bounded age.
func (b *Broker) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.runSweep()
		case <-b.done:
			return
		}
	}
}

// runSweep evicts every mailbox whose live side has outlived the token TTL:
// the token side when no reply arrived, the reply side when nobody polled.
func (b *Broker) runSweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for id, mb := range b.mailboxes {
		var stale bool
		if mb.reply != nil {
			stale = now.Sub(mb.replyAt) > b.tokenTTL
		} else {
			stale = now.Sub(mb.issuedAt) > b.tokenTTL
		}
		if stale {
			delete(b.mailboxes, id)
			b.logger.Warn("swept stale callback mailbox",
				"request_id", id,
				"had_reply", mb.reply != nil)
		}
	}
}

// Close stops the sweeper goroutine. It is safe to call multiple times.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		close(b.done)
		b.closed = true
	}
}
