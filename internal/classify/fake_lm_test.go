package classify

import (
	"context"
	"errors"
	"time"

	"github.com/trfife/barnabeenet/internal/extiface"
)

// fakeLanguageModel lets tests control Complete's response or error
// without a network round trip.
type fakeLanguageModel struct {
	response string
	err      error
	delay    time.Duration
}

func (f *fakeLanguageModel) Complete(ctx context.Context, req extiface.CompletionRequest) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLanguageModel) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("fakeLanguageModel: Embed not used in classify tests")
}
