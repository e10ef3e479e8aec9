package trackutil

import (
	"fmt"
	"net/url"
	"strings"
)

func PixelURL(baseURL string, messageID uint64) string {
	return fmt.Sprintf("%s/track/open/%d", strings.TrimRight(baseURL, "/"), messageID)
}

func ClickURL(baseURL string, messageID uint64, link string) string {
	return fmt.Sprintf("%s/track/click/%d?url=%s", strings.TrimRight(baseURL, "/"), messageID, url.QueryEscape(link))
}

func UnsubscribeURL(baseURL string, messageID uint64) string {
	return fmt.Sprintf("%s/unsubscribe/%d", strings.TrimRight(baseURL, "/"), messageID)
}

// InjectTracking rewrites http(s) links through the click endpoint when
// trackClicks is set, then appends an unsubscribe footer and the open pixel.
func InjectTracking(html, baseURL string, messageID uint64, trackClicks bool) string {
	if trackClicks {
		html = injectClickTracking(html, baseURL, messageID)
	}

	footer := fmt.Sprintf(`<p style="font-size:12px;color:#888888">If you prefer not to hear from us, <a href="%s">unsubscribe</a>.</p>`,
		UnsubscribeURL(baseURL, messageID))
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt="" />`,
		PixelURL(baseURL, messageID))

	return insertBeforeBodyEnd(html, footer+pixel)
}

func injectClickTracking(html, baseURL string, messageID uint64) string {
	const startTag = `href="`

	var (
		sb     strings.Builder
		offset int
	)
	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.IndexByte(html[startIdx:], '"')
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		sb.WriteString(html[offset:startIdx])

		link := html[startIdx:endIdx]
		if isTrackable(link) {
			sb.WriteString(ClickURL(baseURL, messageID, link))
		} else {
			sb.WriteString(link)
		}

		offset = endIdx
	}
	sb.WriteString(html[offset:])

	return sb.String()
}

func isTrackable(link string) bool {
	lower := strings.ToLower(link)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func insertBeforeBodyEnd(html, snippet string) string {
	idx := strings.LastIndex(strings.ToLower(html), "</body>")
	if idx == -1 {
		return html + snippet
	}
	return html[:idx] + snippet + html[idx:]
}

// ValidRedirect reports whether target may be used as a click redirect.
func ValidRedirect(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
