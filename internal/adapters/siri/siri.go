// Package siri reads SIRI-SX situation exchange deliveries.
package siri

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"github.com/transitwatch/internal/adapters"
	"github.com/transitwatch/internal/adapters/xmlpath"
	"github.com/transitwatch/pkg/models"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
	maxRefs           = 20
	defaultTitle      = "Disruption"
)

var severities = map[string]models.DisruptionSeverity{
	"noimpact":   models.DisruptionInfo,
	"slight":     models.DisruptionInfo,
	"normal":     models.DisruptionWarning,
	"severe":     models.DisruptionSevere,
	"verysevere": models.DisruptionSevere,
}

type Client struct {
	http     *adapters.Client
	endpoint string
	now      func() time.Time
}

func NewClient(cfg adapters.Config, endpoint string) *Client {
	return &Client{
		http:     adapters.NewClient(cfg),
		endpoint: endpoint,
		now:      time.Now,
	}
}

// Fetch downloads and parses the current situations.
func (c *Client) Fetch(ctx context.Context) ([]models.Disruption, error) {
	body, err := c.http.Get(ctx, c.endpoint, "application/xml")
	if err != nil {
		return nil, fmt.Errorf("siri-sx: %w", err)
	}
	disruptions, err := Parse(bytes.NewReader(body), c.now())
	if err != nil {
		return nil, fmt.Errorf("siri-sx: %w", err)
	}
	return disruptions, nil
}

// Parse converts every PtSituationElement with an identifier into a
// disruption. A disruption is active when now lies in its validity window.
func Parse(r io.Reader, now time.Time) ([]models.Disruption, error) {
	root, err := xmlpath.Parse(r)
	if err != nil {
		return nil, err
	}

	situations := xmlpath.FindAll(root, "PtSituationElement")
	out := make([]models.Disruption, 0, len(situations))
	for _, sit := range situations {
		id := xmlpath.FirstText(sit, "SituationNumber", "ParticipantRef")
		if id == "" {
			continue
		}

		summary := xmlpath.FindText(sit, "Summary")
		description := xmlpath.FindText(sit, "Description")
		if description == "" {
			description = summary
		}
		title := truncate(summary, maxTitleLen)
		if title == "" {
			title = defaultTitle
		}

		d := models.Disruption{
			ID:            id,
			Title:         title,
			Description:   truncate(description, maxDescriptionLen),
			Severity:      severity(xmlpath.FindText(sit, "Severity")),
			AffectedLines: refs(xmlpath.FindAll(sit, "LineRef")),
			AffectedStops: refs(xmlpath.FindAll(sit, "StopPointRef")),
			StartTime:     parseTime(xmlpath.FindText(sit, "StartTime")),
			EndTime:       parseTime(xmlpath.FindText(sit, "EndTime")),
		}
		d.IsActive = active(d.StartTime, d.EndTime, now)
		out = append(out, d)
	}
	return out, nil
}

func severity(s string) models.DisruptionSeverity {
	if sev, ok := severities[strings.ToLower(strings.TrimSpace(s))]; ok {
		return sev
	}
	return models.DisruptionWarning
}

// refs returns the distinct non-empty values, at most maxRefs.
func refs(nodes []*xmlquery.Node) []string {
	out := make([]string, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		v := xmlpath.Text(n)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if len(out) == maxRefs {
			break
		}
	}
	return out
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := models.ParseTime(s)
	if err != nil {
		return nil
	}
	return &t
}

func active(start, end *time.Time, now time.Time) bool {
	if start != nil && now.Before(*start) {
		return false
	}
	if end != nil && now.After(*end) {
		return false
	}
	return true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
