// Package ocit reads live traffic light state from the OCIT-C REST API.
package ocit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/transitwatch/internal/adapters"
	"github.com/transitwatch/pkg/models"
)

type Client struct {
	http *adapters.Client
	base string
}

func NewClient(cfg adapters.Config, base string) *Client {
	return &Client{
		http: adapters.NewClient(cfg),
		base: strings.TrimRight(base, "/"),
	}
}

// Areas lists the area ids known to the API.
func (c *Client) Areas(ctx context.Context) ([]string, error) {
	body, err := c.http.Get(ctx, c.base+"/areas", "application/json")
	if err != nil {
		return nil, fmt.Errorf("ocit: %w", err)
	}

	raw, err := unwrapList(body, "areas")
	if err != nil {
		return nil, fmt.Errorf("ocit: failed to decode areas: %w", err)
	}

	areas := make([]string, 0, len(raw))
	for _, item := range raw {
		var a struct {
			AreaID json.RawMessage `json:"areaId"`
			ID     json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(item, &a); err != nil {
			continue
		}
		if id := firstScalar(a.AreaID, a.ID); id != "" {
			areas = append(areas, id)
		}
	}
	return areas, nil
}

// Fetch returns the intersections of area. An empty area selects the first
// area the API lists; no areas at all yields no records.
func (c *Client) Fetch(ctx context.Context, area string) ([]models.TrafficLightStatus, error) {
	if area == "" {
		areas, err := c.Areas(ctx)
		if err != nil {
			return nil, err
		}
		if len(areas) == 0 {
			return []models.TrafficLightStatus{}, nil
		}
		area = areas[0]
	}

	body, err := c.http.Get(ctx, c.base+"/snippets/"+url.PathEscape(area), "application/json")
	if err != nil {
		return nil, fmt.Errorf("ocit: %w", err)
	}
	lights, err := Parse(body, area)
	if err != nil {
		return nil, fmt.Errorf("ocit: %w", err)
	}
	return lights, nil
}

type snippet struct {
	UnitID         json.RawMessage            `json:"unitId"`
	IntersectionID json.RawMessage            `json:"intersectionId"`
	Name           string                     `json:"name"`
	Latitude       *float64                   `json:"latitude"`
	Longitude      *float64                   `json:"longitude"`
	Timestamp      json.RawMessage            `json:"timestamp"`
	Measurements   map[string]json.RawMessage `json:"measurements"`
}

// Parse decodes a snippets payload, either a bare list or an object with a
// "snippets" list. Snippets without an intersection id are skipped.
func Parse(body []byte, area string) ([]models.TrafficLightStatus, error) {
	raw, err := unwrapList(body, "snippets")
	if err != nil {
		return nil, fmt.Errorf("failed to decode snippets: %w", err)
	}

	lights := make([]models.TrafficLightStatus, 0, len(raw))
	for _, item := range raw {
		var s snippet
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		id := firstScalar(s.UnitID, s.IntersectionID)
		if id == "" {
			continue
		}

		// an unparseable timestamp only loses UpdatedAt
		var updated models.CustomTime
		_ = json.Unmarshal(s.Timestamp, &updated)

		m := s.Measurements
		lights = append(lights, models.TrafficLightStatus{
			IntersectionID:        id,
			AreaID:                area,
			Name:                  s.Name,
			LevelOfService:        strings.ToUpper(measurementText(m, []string{"LOS", "levelOfService"}, "value", "LOS")),
			SpillbackLengthMeters: measurementFloat(m, []string{"SpillbackLength", "spillbackLength"}, "Length", "length"),
			GreenPercentage:       measurementFloat(m, []string{"GreenPercentage", "greenPercentage"}, "Percentage", "percentage"),
			Location:              models.NewGeoPoint(s.Latitude, s.Longitude),
			UpdatedAt:             models.TimePtr(updated.Time),
		})
	}
	return lights, nil
}

// unwrapList accepts `[...]` or `{"<key>": [...]}`.
func unwrapList(body []byte, key string) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []json.RawMessage
		err := json.Unmarshal(body, &list)
		return list, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	inner, ok := obj[key]
	if !ok {
		return nil, nil
	}
	var list []json.RawMessage
	err := json.Unmarshal(inner, &list)
	return list, err
}

// measurement returns the first present measurement, unwrapping objects by
// the given field names.
func measurement(m map[string]json.RawMessage, names []string, fields ...string) json.RawMessage {
	var raw json.RawMessage
	for _, n := range names {
		if v, ok := m[n]; ok && !isNull(v) {
			raw = v
			break
		}
	}
	if raw == nil {
		return nil
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] != '{' {
		return raw
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	for _, f := range fields {
		if v, ok := obj[f]; ok && !isNull(v) {
			return v
		}
	}
	return nil
}

func measurementText(m map[string]json.RawMessage, names []string, fields ...string) string {
	return scalar(measurement(m, names, fields...))
}

func measurementFloat(m map[string]json.RawMessage, names []string, fields ...string) *float64 {
	s := scalar(measurement(m, names, fields...))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// scalar renders a JSON string or number as text.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstScalar(values ...json.RawMessage) string {
	for _, v := range values {
		if s := scalar(v); s != "" {
			return s
		}
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
