// Package report renders the weekly digest and delivers it on a schedule.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vincentbai/sitetrace-agent/internal/summary"
)

// TopN is how many sections and click targets the digest lists.
const TopN = 5

var digestTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"duration": FormatDuration,
	"comma":    func(n int) string { return humanize.Comma(int64(n)) },
}).Parse(`
<h2>Weekly Analytics Snapshot</h2>
<p>Generated: {{.Generated}}</p>
<ul>
    <li>Total Sessions: <strong>{{comma .Summary.Sessions}}</strong></li>
    <li>Average Time on Screen: <strong>{{duration .Summary.AvgTimeOnScreen}}</strong></li>
    <li>Average Scroll Depth: <strong>{{.Summary.AvgScrollDepth}}%</strong></li>
    <li>Total Clicks: <strong>{{comma .Summary.TotalClicks}}</strong></li>
</ul>
<h3>Top Sections</h3>
<ul>{{range .Sections}}<li><strong>{{.ID}}</strong>: {{duration .Time}} across {{.Enters}} visits</li>{{else}}<li>No section data yet</li>{{end}}</ul>
<h3>Top Interactions</h3>
<ul>{{range .Targets}}<li>{{.Label}}: {{comma .Count}} clicks</li>{{else}}<li>No click data yet</li>{{end}}</ul>
`))

type digestData struct {
	Generated string
	Summary   summary.Summary
	Sections  []summary.RankedSection
	Targets   []summary.RankedTarget
}

// Digest is a rendered report.
type Digest struct {
	Subject string
	HTML    string
}

// Render builds the digest for s as of now, with dates shown in loc.
func Render(s summary.Summary, now time.Time, loc *time.Location) (Digest, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var buf bytes.Buffer
	err := digestTemplate.Execute(&buf, digestData{
		Generated: local.Format("January 2, 2006 3:04 PM"),
		Summary:   s,
		Sections:  s.TopSections(TopN),
		Targets:   s.TopClickTargets(TopN),
	})
	if err != nil {
		return Digest{}, fmt.Errorf("report: render digest: %w", err)
	}

	return Digest{
		Subject: "Weekly Site Insights · " + local.Format("January 2, 2006"),
		HTML:    buf.String(),
	}, nil
}

// FormatDuration renders whole seconds as "42s" or "3m 5s".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	mins, secs := seconds/60, seconds%60
	if mins == 0 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%sm %ds", humanize.Comma(mins), secs)
}
