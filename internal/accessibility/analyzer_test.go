package accessibility

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/analyzer"
)

type fakeFetcher struct {
	resp analyzer.FetchResponse
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ analyzer.FetchRequest) (analyzer.FetchResponse, error) {
	return f.resp, f.err
}

const endToEndPage = `<html><body>
<img src="/hero.png">
<h1>Title</h1><h3>Deep</h3>
<input id="email" type="email">
<p style="color: #ccc">faint text</p>
<div role="slider"></div>
</body></html>`

func TestAnalyze_EndToEndCountsOnePerCategory(t *testing.T) {
	t.Parallel()

	a := New(&fakeFetcher{resp: analyzer.FetchResponse{
		URL:        "http://example.com",
		StatusCode: http.StatusOK,
		Body:       []byte(endToEndPage),
	}}, zap.NewNop())

	result := a.Analyze(context.Background(), "http://example.com")

	require.Empty(t, result.Error)
	require.Len(t, result.ImageIssues, 1)
	require.Len(t, result.HeadingIssues, 1)
	require.Len(t, result.FormIssues, 1)
	require.Len(t, result.ContrastIssues, 1)
	require.Len(t, result.AriaIssues, 1)
	require.Equal(t, 5, result.TotalIssues)
}

func TestAnalyze_TotalAlwaysEqualsSumOfCategories(t *testing.T) {
	t.Parallel()

	pages := []string{
		``,
		`<html><body><p>clean page</p></body></html>`,
		endToEndPage,
		`<img><img><div role="checkbox"></div><div aria-describedby="x y z"></div>`,
	}
	for _, page := range pages {
		a := New(&fakeFetcher{resp: analyzer.FetchResponse{
			StatusCode: http.StatusOK,
			Body:       []byte(page),
		}}, nil)
		result := a.Analyze(context.Background(), "http://example.com")
		sum := len(result.ImageIssues) + len(result.HeadingIssues) +
			len(result.FormIssues) + len(result.ContrastIssues) + len(result.AriaIssues)
		require.Equal(t, sum, result.TotalIssues)
	}
}

func TestAnalyze_FetchFailureShortCircuits(t *testing.T) {
	t.Parallel()

	a := New(&fakeFetcher{err: errors.New("connection refused")}, zap.NewNop())

	result := a.Analyze(context.Background(), "http://down.example.com")

	require.Contains(t, result.Error, "failed to load page")
	require.Contains(t, result.Error, "connection refused")
	require.Zero(t, result.TotalIssues)
	require.NotNil(t, result.ImageIssues)
	require.Empty(t, result.ImageIssues)
	require.Empty(t, result.HeadingIssues)
	require.Empty(t, result.FormIssues)
	require.Empty(t, result.ContrastIssues)
	require.Empty(t, result.AriaIssues)
}

func TestAnalyze_NonTwoHundredIsAFetchFailure(t *testing.T) {
	t.Parallel()

	a := New(&fakeFetcher{resp: analyzer.FetchResponse{
		StatusCode: http.StatusNotFound,
		Body:       []byte(endToEndPage),
	}}, zap.NewNop())

	result := a.Analyze(context.Background(), "http://example.com")

	require.Contains(t, result.Error, "unexpected status 404")
	require.Zero(t, result.TotalIssues)
}

func TestResult_JSONShape(t *testing.T) {
	t.Parallel()

	a := New(&fakeFetcher{resp: analyzer.FetchResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`<img src="/x.png">`),
	}}, nil)
	result := a.Analyze(context.Background(), "http://example.com")

	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Equal(t, "http://example.com", decoded["url"])
	require.Equal(t, float64(1), decoded["total_issues"])
	// Empty categories serialize as [], never null.
	require.Equal(t, []any{}, decoded["heading_issues"])
	require.NotContains(t, decoded, "error")

	images, ok := decoded["image_issues"].([]any)
	require.True(t, ok)
	require.Len(t, images, 1)
	issue := images[0].(map[string]any)
	// Only fields relevant to the category are present.
	require.Equal(t, "/x.png", issue["src"])
	require.NotContains(t, issue, "text")
	require.NotContains(t, issue, "role")
	require.NotContains(t, issue, "missing_attributes")
}
