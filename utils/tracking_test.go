package utils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrackingTokenShapeAndUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		token := NewTrackingToken()
		require.Len(t, token, 20)
		assert.NotContains(t, token, "/")
		assert.NotContains(t, token, "+")
		assert.False(t, seen[token], "token collision: %s", token)
		seen[token] = true
	}
}

func TestInjectTrackingPixel(t *testing.T) {
	out := InjectTracking("<p>hello</p>", "https://track.example.com", "tok123", true, false, false)

	assert.Contains(t, out, "https://track.example.com/track/open/tok123")
	assert.Contains(t, out, `width="1" height="1"`)
	assert.True(t, strings.HasPrefix(out, "<p>hello</p>"))
}

func TestInjectTrackingClickWrap(t *testing.T) {
	body := `<p>See <a href="https://example.com/pricing">our pricing</a></p>`
	out := InjectTracking(body, "https://track.example.com", "tok123", false, true, false)

	assert.Contains(t, out, "/track/click/tok123?url=")
	assert.NotContains(t, out, `href="https://example.com/pricing"`)
	// Destination survives inside the query string.
	assert.Contains(t, out, "https%3A%2F%2Fexample.com%2Fpricing")
}

func TestInjectTrackingMultipleLinks(t *testing.T) {
	body := `<a href="https://a.example.com">a</a> and <a href="https://b.example.com">b</a>`
	out := InjectTracking(body, "https://t.example.com", "tok", false, true, false)

	assert.Equal(t, 2, strings.Count(out, "/track/click/tok?url="))
	assert.Contains(t, out, "a.example.com")
	assert.Contains(t, out, "b.example.com")
}

func TestInjectTrackingUnsubscribeFooter(t *testing.T) {
	out := InjectTracking("<p>hi</p>", "https://t.example.com", "tok", false, false, true)
	assert.Contains(t, out, "https://t.example.com/track/unsubscribe/tok")
	assert.Contains(t, out, "Unsubscribe")
}

func TestInjectTrackingDisabledFlagsLeaveBodyUntouched(t *testing.T) {
	body := `<p>plain <a href="https://example.com">link</a></p>`
	out := InjectTracking(body, "https://t.example.com", "tok", false, false, false)
	assert.Equal(t, body, out)
}

func TestInjectTrackingFooterNotClickWrapped(t *testing.T) {
	// Clicks are wrapped before the footer is appended, so the unsubscribe
	// link itself must stay direct.
	out := InjectTracking("<p>hi</p>", "https://t.example.com", "tok", true, true, true)
	unsub := fmt.Sprintf(`<a href="%s">`, UnsubscribeURL("https://t.example.com", "tok"))
	assert.Contains(t, out, unsub)
}
