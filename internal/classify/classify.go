package classify

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Markers are the selectors that must all be present for a thread to count
// as open.
type Markers struct {
	Subject string
	Sender  string
	Body    string
}

// DefaultMarkers match the webmail conversation view.
var DefaultMarkers = Markers{
	Subject: "h2.hP",
	Sender:  ".gD",
	Body:    ".a3s.aiL",
}

// DefaultViewPatterns are URL fragments of the list views a thread opens from.
var DefaultViewPatterns = []string{"#inbox/", "#all/"}

// Classifier decides whether a conversation thread is currently open.
type Classifier struct {
	ViewPatterns []string
	Markers      Markers
}

// Default returns a Classifier with the default view patterns and markers.
func Default() Classifier {
	return Classifier{ViewPatterns: DefaultViewPatterns, Markers: DefaultMarkers}
}

// ThreadOpen reports whether url is a thread view and the document has
// subject, sender and body markers all present at once.
func (c Classifier) ThreadOpen(doc *goquery.Document, url string) bool {
	if doc == nil || !c.IsThreadView(url) {
		return false
	}
	for _, sel := range []string{c.Markers.Subject, c.Markers.Sender, c.Markers.Body} {
		if sel == "" || doc.Find(sel).Length() == 0 {
			return false
		}
	}
	return true
}

// IsThreadView reports whether url contains one of the view patterns.
func (c Classifier) IsThreadView(url string) bool {
	for _, p := range c.ViewPatterns {
		if p != "" && strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// DetectSource names the webmail client serving url, or "" if unknown.
func DetectSource(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, "mail.google.com"):
		return "gmail"
	case strings.Contains(lower, "outlook.live.com"),
		strings.Contains(lower, "outlook.office.com"):
		return "outlook"
	case strings.Contains(lower, "mail.proton.me"):
		return "proton"
	}
	return ""
}
