package pages

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	body []byte
	err  error
}

func (f fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	return f.body, f.err
}

func TestServeWritesPlaceholderWhenURLUnconfigured(t *testing.T) {
	w := httptest.NewRecorder()
	Serve(context.Background(), fakeFetcher{err: errors.New("should not be called")}, w, "")

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "Beacon")
}

func TestServeWritesFetchedBody(t *testing.T) {
	w := httptest.NewRecorder()
	Serve(context.Background(), fakeFetcher{body: []byte("<h1>hi</h1>")}, w, "https://example.com")

	require.Equal(t, 200, w.Code)
	assert.Equal(t, "<h1>hi</h1>", w.Body.String())
}

func TestServeReturns502OnFetchFailure(t *testing.T) {
	w := httptest.NewRecorder()
	Serve(context.Background(), fakeFetcher{err: errors.New("boom")}, w, "https://example.com")

	assert.Equal(t, 502, w.Code)
}
