// Package notify provides the production extiface.NotificationSink used
// to deliver Safety Monitor alerts and operational warnings to a
// household's Discord server.
//
// Grounded on _examples/vthunder-bud2/internal/effectors/discord.go's
// DiscordEffector: a lazily-resolved *discordgo.Session (the gateway
// connection is opened by the daemon's own lifecycle, not by this
// package), a message-length cap on outbound payloads, and per-channel
// retry bookkeeping under a mutex. faults.RetryState/BackoffDelay
// replace the teacher's bespoke retryState/backoff pair since that
// bookkeeping is already generalized there.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/trfife/barnabeenet/internal/faults"
	"github.com/trfife/barnabeenet/internal/obslog"
)

// MaxDiscordMessageLength is Discord's hard cap on a single message
// body, matching the teacher's MaxDiscordMessageLength.
const MaxDiscordMessageLength = 2000

// DiscordSink delivers Notify calls as channel messages over an already
// authenticated discordgo session. The session is supplied through a
// getter rather than held directly so a sink can be constructed before
// the gateway connection is established and will pick up a reconnected
// session transparently.
type DiscordSink struct {
	getSession func() *discordgo.Session

	maxRetryDuration time.Duration

	retryMu sync.Mutex
	retries map[string]*faults.RetryState
}

// NewDiscordSink builds a DiscordSink around a session getter. Passing a
// function instead of a session lets the daemon swap in a freshly
// reconnected session without re-wiring every collaborator that holds a
// NotificationSink.
func NewDiscordSink(getSession func() *discordgo.Session) *DiscordSink {
	return &DiscordSink{
		getSession:       getSession,
		maxRetryDuration: faults.DefaultMaxRetryDuration,
		retries:          make(map[string]*faults.RetryState),
	}
}

// WithMaxRetryDuration overrides how long a channel's failing deliveries
// are retried before Notify gives up and returns an error.
func (d *DiscordSink) WithMaxRetryDuration(dur time.Duration) *DiscordSink {
	d.maxRetryDuration = dur
	return d
}

// Notify sends payload to the named Discord channel, truncating to
// MaxDiscordMessageLength and retrying transient failures with capped
// exponential backoff up to the sink's max retry duration.
func (d *DiscordSink) Notify(ctx context.Context, channel, payload string) error {
	session := d.getSession()
	if session == nil {
		return fmt.Errorf("notify: discord session not established")
	}

	payload = truncate(payload, MaxDiscordMessageLength)

	state := d.retryStateFor(channel)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := session.ChannelMessageSend(channel, payload)
		if err == nil {
			d.clearRetryState(channel)
			return nil
		}
		state.Attempts++
		if state.Attempts == 1 {
			state.FirstFailure = time.Now()
		}
		if state.Exhausted(time.Now(), d.maxRetryDuration) {
			obslog.Error("notify", "giving up on discord channel %s after %d attempts: %v", channel, state.Attempts, err)
			return fmt.Errorf("notify: deliver to channel %s: %w", channel, err)
		}
		delay := faults.BackoffDelay(state.Attempts)
		obslog.Error("notify", "discord send to channel %s failed (attempt %d), retrying in %s: %v", channel, state.Attempts, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (d *DiscordSink) retryStateFor(channel string) *faults.RetryState {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()
	s, ok := d.retries[channel]
	if !ok {
		s = &faults.RetryState{}
		d.retries[channel] = s
	}
	return s
}

func (d *DiscordSink) clearRetryState(channel string) {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()
	delete(d.retries, channel)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const ellipsis = "... (truncated)"
	if max <= len(ellipsis) {
		return s[:max]
	}
	return s[:max-len(ellipsis)] + ellipsis
}
