package fusion

import (
	"fmt"
	"strings"
)

// sectionRule separates rendered sections.
var sectionRule = strings.Repeat("=", 80)

var sectionTitles = map[Kind]string{
	KindHistory:  "RECENT CHAT HISTORY",
	KindMemory:   "LONG-TERM MEMORIES",
	KindDocument: "DOCUMENTS",
	KindWeb:      "WEB RESULTS",
}

// Render returns the bundle as one text block, one titled section per
// contributing kind in priority order.
func (b Bundle) Render() string {
	var sections []string
	for _, k := range priority {
		items := b.ByKind(k)
		if len(items) == 0 {
			continue
		}
		sections = append(sections, sectionTitles[k]+":\n"+renderItems(items))
	}
	return strings.Join(sections, "\n\n"+sectionRule+"\n\n")
}

// Sections is the bundle split the way the generator consumes it.
type Sections struct {
	// Context holds documents followed by web results.
	Context string
	Memory  string
	History string
}

// RenderSections renders each part of the bundle separately.
func (b Bundle) RenderSections() Sections {
	var s Sections
	s.History = renderItems(b.ByKind(KindHistory))
	s.Memory = renderItems(b.ByKind(KindMemory))

	var ctx []string
	if docs := b.ByKind(KindDocument); len(docs) > 0 {
		ctx = append(ctx, renderItems(docs))
	}
	if web := b.ByKind(KindWeb); len(web) > 0 {
		ctx = append(ctx, renderItems(web))
	}
	s.Context = strings.Join(ctx, "\n\n")
	return s
}

func renderItems(items []ContextItem) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, renderItem(it))
	}
	switch {
	case len(items) == 0:
		return ""
	case items[0].Kind == KindHistory || items[0].Kind == KindMemory:
		return strings.Join(lines, "\n")
	default:
		return strings.Join(lines, "\n\n")
	}
}

func renderItem(it ContextItem) string {
	switch it.Kind {
	case KindHistory:
		return fmt.Sprintf("%s: %s", it.Role, it.Text)
	case KindMemory:
		return "- " + it.Text
	case KindDocument:
		return fmt.Sprintf("[%s, page %d] %s", it.Source, it.Page, it.Text)
	case KindWeb:
		if it.Source == "" {
			return it.Text
		}
		return fmt.Sprintf("%s\n(source: %s)", it.Text, it.Source)
	default:
		return it.Text
	}
}
