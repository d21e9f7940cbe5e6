// Package datex pulls DATEX II road traffic situations over SOAP.
package datex

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
	soapAction = "http://opentransportdata.swiss/TDP/Soap_Datex2/Pull/v1/pullTrafficMessages"

	maxDescriptionLen = 500
	maxLocationLen    = 200
	defaultSeverity   = "normal"
)

const pullRequest = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema">
    <PullTrafficMessages xmlns="http://opentransportdata.swiss/TDP/Soap_Datex2/Pull/v1">
      <clientIdentification xmlns="http://datex2.eu/schema/2/2_3">
        <country>ch</country>
        <nationalIdentifier>%s</nationalIdentifier>
      </clientIdentification>
      <operatingMode>operatingMode1</operatingMode>
      <requestDate>%s</requestDate>
      <returnStatus>active</returnStatus>
      <updateMethod>singleElementUpdate</updateMethod>
      <deliveryBreakdown>
        <deliveryLocation>http</deliveryLocation>
      </deliveryBreakdown>
    </PullTrafficMessages>
  </s:Body>
</s:Envelope>`

type Client struct {
	http       *adapters.Client
	endpoint   string
	identifier string
	now        func() time.Time
}

// NewClient creates a DATEX II client. identifier is sent as the national
// client identifier of the pull request.
func NewClient(cfg adapters.Config, endpoint, identifier string) *Client {
	if identifier == "" {
		identifier = "transitwatch"
	}
	return &Client{
		http:       adapters.NewClient(cfg),
		endpoint:   endpoint,
		identifier: identifier,
		now:        time.Now,
	}
}

// Fetch pulls the active situations.
func (c *Client) Fetch(ctx context.Context) ([]models.TrafficSituation, error) {
	body := fmt.Sprintf(pullRequest, c.identifier, c.now().UTC().Format("2006-01-02T15:04:05.000000Z"))
	resp, err := c.http.Post(ctx, c.endpoint, "application/xml", []byte(body), map[string]string{
		"SOAPAction": soapAction,
	})
	if err != nil {
		return nil, fmt.Errorf("datex: %w", err)
	}
	situations, err := Parse(bytes.NewReader(resp))
	if err != nil {
		return nil, fmt.Errorf("datex: %w", err)
	}
	return situations, nil
}

// Parse extracts every situationRecord carrying an id attribute.
func Parse(r io.Reader) ([]models.TrafficSituation, error) {
	root, err := xmlpath.Parse(r)
	if err != nil {
		return nil, err
	}

	records := xmlpath.FindAll(root, "situationRecord")
	out := make([]models.TrafficSituation, 0, len(records))
	for _, rec := range records {
		id := xmlpath.Attr(rec, "id")
		if id == "" {
			continue
		}

		description := comment(rec)
		severity := xmlpath.FindText(rec, "impactType")
		if severity == "" {
			severity = defaultSeverity
		}

		s := models.TrafficSituation{
			ID:                  id,
			Description:         truncate(description, maxDescriptionLen),
			LocationDescription: truncate(description, maxLocationLen),
			Severity:            severity,
			Location:            position(rec),
			StartTime:           parseTime(xmlpath.FindText(rec, "overallStartTime")),
			EndTime:             parseTime(xmlpath.FindText(rec, "overallEndTime")),
		}
		out = append(out, s)
	}
	return out, nil
}

// comment returns the public comment, preferring the English variant.
func comment(rec *xmlquery.Node) string {
	var text string
	for _, c := range xmlpath.FindAll(rec, "generalPublicComment") {
		for _, v := range xmlpath.FindAll(c, "value") {
			if strings.EqualFold(xmlpath.Attr(v, "lang"), "en") {
				return xmlpath.Text(v)
			}
			if text == "" {
				text = xmlpath.Text(v)
			}
		}
	}
	return text
}

func position(rec *xmlquery.Node) *models.GeoPoint {
	lat, latOK := xmlpath.FindFloat(rec, "latitude")
	lon, lonOK := xmlpath.FindFloat(rec, "longitude")
	if !latOK || !lonOK {
		return nil
	}
	return models.NewGeoPoint(&lat, &lon)
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

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
