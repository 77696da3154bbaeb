package handlers

import (
	"context"
	"errors"

	"github.com/trfife/barnabeenet/internal/extiface"
)

type fakeLanguageModel struct {
	response string
	err      error
}

func (f *fakeLanguageModel) Complete(ctx context.Context, req extiface.CompletionRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLanguageModel) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("fakeLanguageModel: Embed not used in handler tests")
}
