package siri

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/transitwatch/internal/adapters"
	"github.com/transitwatch/pkg/models"
)

const delivery = `<?xml version="1.0" encoding="UTF-8"?>
<Siri xmlns="http://www.siri.org.uk/siri" version="2.0">
  <ServiceDelivery>
    <SituationExchangeDelivery>
      <Situations>
        <PtSituationElement>
          <SituationNumber>ch:1:sstid:100602:1</SituationNumber>
          <ValidityPeriod>
            <StartTime>2024-03-01T06:00:00+01:00</StartTime>
            <EndTime>2024-03-01T22:00:00+01:00</EndTime>
          </ValidityPeriod>
          <Severity>verySevere</Severity>
          <Summary xml:lang="de">Unterbruch Zürich HB - Stadelhofen</Summary>
          <Affects>
            <Networks><AffectedNetwork><AffectedLine><LineRef>ch:1:slnid:1</LineRef></AffectedLine>
            <AffectedLine><LineRef>ch:1:slnid:1</LineRef></AffectedLine>
            <AffectedLine><LineRef>ch:1:slnid:2</LineRef></AffectedLine></AffectedNetwork></Networks>
            <StopPoints><AffectedStopPoint><StopPointRef>8503000</StopPointRef></AffectedStopPoint></StopPoints>
          </Affects>
        </PtSituationElement>
        <PtSituationElement>
          <ParticipantRef>SBB</ParticipantRef>
          <Severity>slight</Severity>
          <Description>Lift out of service</Description>
        </PtSituationElement>
        <PtSituationElement>
          <Summary>no identifier</Summary>
        </PtSituationElement>
        <PtSituationElement>
          <SituationNumber>ended</SituationNumber>
          <ValidityPeriod><EndTime>2024-02-01T00:00:00Z</EndTime></ValidityPeriod>
          <Severity>unknown</Severity>
        </PtSituationElement>
      </Situations>
    </SituationExchangeDelivery>
  </ServiceDelivery>
</Siri>`

func TestParse(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := Parse(strings.NewReader(delivery), now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 disruptions, got %d", len(got))
	}

	first := got[0]
	if first.ID != "ch:1:sstid:100602:1" {
		t.Errorf("unexpected id %q", first.ID)
	}
	if first.Severity != models.DisruptionSevere {
		t.Errorf("verySevere should map to severe, got %s", first.Severity)
	}
	if first.Title != "Unterbruch Zürich HB - Stadelhofen" || first.Description != first.Title {
		t.Errorf("description should fall back to summary: %+v", first)
	}
	if len(first.AffectedLines) != 2 || first.AffectedLines[1] != "ch:1:slnid:2" {
		t.Errorf("unexpected lines %v", first.AffectedLines)
	}
	if len(first.AffectedStops) != 1 || first.AffectedStops[0] != "8503000" {
		t.Errorf("unexpected stops %v", first.AffectedStops)
	}
	if first.StartTime == nil || !first.StartTime.Equal(time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %v", first.StartTime)
	}
	if !first.IsActive {
		t.Error("situation inside its window should be active")
	}

	second := got[1]
	if second.ID != "SBB" || second.Title != defaultTitle || second.Severity != models.DisruptionInfo {
		t.Errorf("unexpected fallback disruption %+v", second)
	}
	if second.AffectedLines == nil || second.AffectedStops == nil {
		t.Error("affected lists should be empty, not nil")
	}

	third := got[2]
	if third.IsActive {
		t.Error("ended situation should be inactive")
	}
	if third.Severity != models.DisruptionWarning {
		t.Errorf("unknown severity should be warning, got %s", third.Severity)
	}
}

func TestTruncation(t *testing.T) {
	long := strings.Repeat("ü", 1500)
	doc := `<Siri><PtSituationElement><SituationNumber>x</SituationNumber><Summary>` +
		long + `</Summary></PtSituationElement></Siri>`

	got, err := Parse(strings.NewReader(doc), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(got[0].Title)); n != maxTitleLen {
		t.Errorf("title length = %d", n)
	}
	if n := len([]rune(got[0].Description)); n != maxDescriptionLen {
		t.Errorf("description length = %d", n)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(delivery))
	}))
	defer srv.Close()

	c := NewClient(adapters.Config{APIKey: "k"}, srv.URL)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	got, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 disruptions, got %d", len(got))
	}
}

func TestFetchWithoutKey(t *testing.T) {
	c := NewClient(adapters.Config{}, "http://127.0.0.1:0")
	if _, err := c.Fetch(context.Background()); !errors.Is(err, adapters.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
