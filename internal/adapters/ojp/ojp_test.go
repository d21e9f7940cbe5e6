package ojp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitwatch/internal/adapters"
	"github.com/transitwatch/pkg/models"
)

const locationResponse = `<?xml version="1.0" encoding="UTF-8"?>
<OJP xmlns="http://www.vdv.de/ojp" xmlns:siri="http://www.siri.org.uk/siri">
  <OJPResponse><siri:ServiceDelivery><OJPLocationInformationDelivery>
    <Location>
      <Location>
        <StopPlace>
          <StopPlaceRef>8503000</StopPlaceRef>
          <StopPlaceName><Text xml:lang="de">Zürich HB</Text></StopPlaceName>
          <TopographicPlaceRef>23006261:1</TopographicPlaceRef>
        </StopPlace>
        <LocationName><Text>Zürich HB</Text></LocationName>
        <GeoPosition><Longitude>8.54021</Longitude><Latitude>47.37818</Latitude></GeoPosition>
      </Location>
      <Complete>true</Complete>
    </Location>
    <Location>
      <Location>
        <StopPlace>
          <siri:StopPointRef>8591105</siri:StopPointRef>
          <StopPlaceName><Text>Zürich, Bellevue</Text></StopPlaceName>
        </StopPlace>
        <TopographicPlaceName><Text>Zürich</Text></TopographicPlaceName>
      </Location>
    </Location>
    <Location>
      <Location><Address><Text>Bahnhofstrasse 1</Text></Address></Location>
    </Location>
  </OJPLocationInformationDelivery></siri:ServiceDelivery></OJPResponse>
</OJP>`

const tripResponse = `<?xml version="1.0" encoding="UTF-8"?>
<OJP xmlns="http://www.vdv.de/ojp" xmlns:siri="http://www.siri.org.uk/siri">
  <OJPResponse><siri:ServiceDelivery><OJPTripDelivery>
    <TripResult>
      <ResultId>r1</ResultId>
      <Trip>
        <TripId>ID-1</TripId>
        <TripLeg>
          <LegId>1</LegId>
          <TimedLeg>
            <LegBoard>
              <siri:StopPointRef>8591105</siri:StopPointRef>
              <StopPointName><Text>Zürich, Bellevue</Text></StopPointName>
              <PlannedQuay><Text>D</Text></PlannedQuay>
              <ServiceDeparture>
                <TimetabledTime>2024-03-01T07:00:00Z</TimetabledTime>
                <EstimatedTime>2024-03-01T07:02:30Z</EstimatedTime>
              </ServiceDeparture>
              <Latitude>47.3670</Latitude><Longitude>8.5450</Longitude>
            </LegBoard>
            <LegIntermediates>
              <siri:StopPointRef>8591200</siri:StopPointRef>
              <StopPointName><Text>Kunsthaus</Text></StopPointName>
              <ServiceArrival><TimetabledTime>2024-03-01T07:03:00Z</TimetabledTime></ServiceArrival>
            </LegIntermediates>
            <LegIntermediates>
              <StopPointName><Text>missing ref</Text></StopPointName>
            </LegIntermediates>
            <LegAlight>
              <siri:StopPointRef>8591300</siri:StopPointRef>
              <StopPointName><Text>Römerhof</Text></StopPointName>
              <ServiceArrival><TimetabledTime>2024-03-01T07:08:00Z</TimetabledTime></ServiceArrival>
            </LegAlight>
            <Service>
              <Mode><PtMode>tram</PtMode></Mode>
              <siri:LineRef>ojp:91008:A</siri:LineRef>
              <PublishedLineName><Text>8</Text></PublishedLineName>
              <siri:OperatorRef>ojp:3849</siri:OperatorRef>
              <DestinationText><Text>Klusplatz</Text></DestinationText>
            </Service>
          </TimedLeg>
        </TripLeg>
        <TripLeg>
          <TransferLeg>
            <TransferMode>walk</TransferMode>
            <LegStart><StopPointName><Text>Römerhof</Text></StopPointName></LegStart>
            <LegEnd><StopPointName><Text>Römerhof Bus</Text></StopPointName></LegEnd>
            <TimeWindowStart>2024-03-01T07:08:00Z</TimeWindowStart>
            <TimeWindowEnd>2024-03-01T07:12:00Z</TimeWindowEnd>
            <Duration>PT4M</Duration>
          </TransferLeg>
        </TripLeg>
        <TripLeg>
          <TimedLeg>
            <LegBoard>
              <siri:StopPointRef>8591301</siri:StopPointRef>
              <StopPointName><Text>Römerhof Bus</Text></StopPointName>
              <ServiceDeparture><TimetabledTime>2024-03-01T07:12:00Z</TimetabledTime></ServiceDeparture>
            </LegBoard>
            <LegAlight>
              <siri:StopPointRef>8591400</siri:StopPointRef>
              <StopPointName><Text>Witikon</Text></StopPointName>
              <ServiceArrival><TimetabledTime>2024-03-01T07:12:20Z</TimetabledTime></ServiceArrival>
            </LegAlight>
            <Service><Mode><PtMode>Bus</PtMode></Mode><siri:LineRef>ojp:91034:A</siri:LineRef></Service>
          </TimedLeg>
        </TripLeg>
      </Trip>
    </TripResult>
    <TripResult>
      <Trip>
        <TripLeg><TimedLeg><LegBoard><StopPointName><Text>broken</Text></StopPointName></LegBoard></TimedLeg></TripLeg>
      </Trip>
    </TripResult>
    <TripResult>
      <Trip>
        <TripLeg><ContinuousLeg><Duration>PT1H5M</Duration></ContinuousLeg></TripLeg>
      </Trip>
    </TripResult>
  </OJPTripDelivery></siri:ServiceDelivery></OJPResponse>
</OJP>`

func TestParseLocations(t *testing.T) {
	locations, err := ParseLocations(strings.NewReader(locationResponse), 10)
	require.NoError(t, err)
	require.Len(t, locations, 2)

	hb := locations[0]
	assert.Equal(t, "8503000", hb.ID)
	assert.Equal(t, "Zürich HB", hb.Name)
	assert.Equal(t, models.LocationStop, hb.Type)
	require.NotNil(t, hb.Position)
	assert.Equal(t, 47.37818, hb.Position.Latitude)

	bellevue := locations[1]
	assert.Equal(t, "8591105", bellevue.ID)
	assert.Equal(t, "Zürich", bellevue.Locality)
	assert.Nil(t, bellevue.Position)

	limited, err := ParseLocations(strings.NewReader(locationResponse), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestParseTrips(t *testing.T) {
	now := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	trips, err := ParseTrips(strings.NewReader(tripResponse), now)
	require.NoError(t, err)
	require.Len(t, trips, 2)

	trip := trips[0]
	assert.Equal(t, "ID-1", trip.TripID)
	require.Len(t, trip.Legs, 3)
	assert.Equal(t, 1, trip.NumTransfers)
	assert.Equal(t, 12, trip.DurationMinutes)
	assert.NotNil(t, trip.Disruptions)

	tram := trip.Legs[0]
	assert.Equal(t, "leg_0", tram.LegID)
	assert.Equal(t, models.ModeTram, tram.Mode)
	assert.Equal(t, "8", tram.LineName)
	assert.Equal(t, "ojp:91008:A", tram.LineNumber)
	assert.Equal(t, "Klusplatz", tram.DestinationText)
	assert.Equal(t, "ojp:3849", tram.Operator)
	assert.Equal(t, 8, tram.DurationMinutes)
	assert.True(t, tram.HasRealtime)
	assert.Equal(t, "D", tram.Origin.Platform)
	assert.Equal(t, 2, tram.Origin.DelayMinutes)
	require.NotNil(t, tram.Origin.EstimatedTime)
	require.NotNil(t, tram.Origin.Position)
	require.Len(t, tram.IntermediateStops, 1)
	assert.Equal(t, "Kunsthaus", tram.IntermediateStops[0].Name)

	walk := trip.Legs[1]
	assert.Equal(t, models.ModeWalk, walk.Mode)
	assert.Equal(t, "walk_start", walk.Origin.ID)
	assert.Equal(t, "Römerhof", walk.Origin.Name)
	assert.Equal(t, "Römerhof Bus", walk.Destination.Name)
	assert.Equal(t, 4, walk.DurationMinutes)
	assert.False(t, walk.HasRealtime)

	bus := trip.Legs[2]
	assert.Equal(t, models.ModeBus, bus.Mode)
	assert.Equal(t, 1, bus.DurationMinutes, "duration is at least one minute")

	fallback := trips[1]
	assert.Equal(t, "trip_2", fallback.TripID)
	require.Len(t, fallback.Legs, 1)
	assert.Equal(t, 65, fallback.Legs[0].DurationMinutes)
	assert.Equal(t, "Start", fallback.Legs[0].Origin.Name)
	assert.True(t, fallback.Legs[0].Origin.ScheduledTime.Equal(now))
	assert.Equal(t, 0, fallback.NumTransfers)
	assert.Equal(t, 1, fallback.DurationMinutes)
}

func TestWalkMinutes(t *testing.T) {
	cases := map[string]int{"PT5M": 5, "PT1H": 60, "PT2H10M30S": 130, "": 5, "P1D": 5, "PT": 5}
	for in, want := range cases {
		assert.Equal(t, want, walkMinutes(in), "walkMinutes(%q)", in)
	}
}

func TestSearchTripsPostsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer ojp-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<ojp:StopPlaceRef>8591105</ojp:StopPlaceRef>")
		assert.Contains(t, string(body), "<ojp:DepArrTime>2024-03-01T06:55:00Z</ojp:DepArrTime>")
		assert.Contains(t, string(body), "<ojp:NumberOfResults>3</ojp:NumberOfResults>")
		w.Write([]byte(tripResponse))
	}))
	defer srv.Close()

	c := NewClient(adapters.Config{APIKey: "ojp-key"}, srv.URL, "")
	c.now = func() time.Time { return time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC) }

	result, err := c.SearchTrips(context.Background(), TripRequest{
		OriginID:      "8591105",
		DestinationID: "8591400",
		Departure:     time.Date(2024, 3, 1, 7, 55, 0, 0, time.FixedZone("CET", 3600)),
		NumResults:    3,
	})
	require.NoError(t, err)
	assert.Len(t, result.Trips, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), result.SearchTime)
}

func TestSearchLocationsEscapesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<ojp:LocationName>A &amp; B &lt;x&gt;</ojp:LocationName>")
		w.Write([]byte(locationResponse))
	}))
	defer srv.Close()

	c := NewClient(adapters.Config{APIKey: "k"}, srv.URL, "")
	locations, err := c.SearchLocations(context.Background(), "A & B <x>", 5)
	require.NoError(t, err)
	assert.Len(t, locations, 2)
}

func TestSearchWithoutKey(t *testing.T) {
	c := NewClient(adapters.Config{}, "http://127.0.0.1:0", "")
	assert.False(t, c.Configured())

	_, err := c.SearchLocations(context.Background(), "Bern", 5)
	assert.ErrorIs(t, err, adapters.ErrNotConfigured)
	_, err = c.SearchTrips(context.Background(), TripRequest{OriginID: "a", DestinationID: "b", NumResults: 1})
	assert.ErrorIs(t, err, adapters.ErrNotConfigured)
}
