package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// NewTrackingToken issues a globally unique, URL-safe tracking token.
func NewTrackingToken() string {
	hash := sha256.Sum256([]byte(uuid.New().String() + uuid.New().String()))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}

// OpenPixelURL builds the tracking pixel URL for email opens.
func OpenPixelURL(baseURL, token string) string {
	return fmt.Sprintf("%s/track/open/%s", baseURL, token)
}

// ClickTrackURL builds a click-wrapped URL for a link in the message body.
func ClickTrackURL(baseURL, token, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%s?url=%s", baseURL, token, url.QueryEscape(originalURL))
}

// UnsubscribeURL builds the one-click unsubscribe landing URL.
func UnsubscribeURL(baseURL, token string) string {
	return fmt.Sprintf("%s/track/unsubscribe/%s", baseURL, token)
}

// InjectTracking rewrites an HTML body with the tracking instrumentation the
// sequence flags ask for: click-wrapped links, an open pixel appended at the
// end, and an unsubscribe footer.
func InjectTracking(htmlContent, baseURL, token string, trackOpens, trackClicks, unsubscribeFooter bool) string {
	out := htmlContent

	if trackClicks {
		out = injectClickTracking(out, baseURL, token)
	}

	if unsubscribeFooter {
		footer := fmt.Sprintf(
			`<p style="font-size:11px;color:#999"><a href="%s">Unsubscribe</a></p>`,
			UnsubscribeURL(baseURL, token),
		)
		out += footer
	}

	if trackOpens {
		pixel := fmt.Sprintf(
			`<img src="%s" alt="" width="1" height="1" style="display:none">`,
			OpenPixelURL(baseURL, token),
		)
		out += pixel
	}

	return out
}

// injectClickTracking wraps every anchor href with the click redirect. It is
// a plain string scanner rather than a full HTML parser; bodies are produced
// by our own templates so attribute order is predictable.
func injectClickTracking(html, baseURL, token string) string {
	const startTag = "<a href=\""
	const endTag = "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := ClickTrackURL(baseURL, token, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
