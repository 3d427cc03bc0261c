package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// GenerateTrackingPixelURL builds the open-tracking pixel URL for an email
func GenerateTrackingPixelURL(baseURL, trackingID string) string {
	return fmt.Sprintf("%s/track/%s/opened", baseURL, trackingID)
}

// GenerateClickTrackURL builds a tracked redirect URL for a link
func GenerateClickTrackURL(baseURL, trackingID, originalURL string) string {
	encodedURL := url.QueryEscape(originalURL)
	return fmt.Sprintf("%s/track/%s/clicked?url=%s", baseURL, trackingID, encodedURL)
}

// InjectTracking rewrites links through the click endpoint and appends
// the open pixel. Applied at send time only, the stored body stays clean.
func InjectTracking(htmlContent, baseURL, trackingID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, trackingID)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	modifiedHTML := injectClickTracking(htmlContent, baseURL, trackingID)

	return modifiedHTML + trackingPixel
}

func injectClickTracking(html, baseURL, trackingID string) string {
	// Simple string scan; links produced by our templates are plain
	// double-quoted hrefs.
	startTag := "<a href=\""
	endTag := "\""
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
		trackedURL := GenerateClickTrackURL(baseURL, trackingID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
