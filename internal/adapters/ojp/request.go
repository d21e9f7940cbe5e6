package ojp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const locationRequest = `<?xml version="1.0" encoding="UTF-8"?>
<ojp:OJP xmlns:ojp="http://www.vdv.de/ojp" xmlns:siri="http://www.siri.org.uk/siri" version="1.0">
  <ojp:OJPRequest>
    <siri:ServiceRequest>
      <siri:RequestTimestamp>%[1]s</siri:RequestTimestamp>
      <siri:RequestorRef>%[2]s</siri:RequestorRef>
      <ojp:OJPLocationInformationRequest>
        <siri:RequestTimestamp>%[1]s</siri:RequestTimestamp>
        <siri:MessageIdentifier>%[3]s</siri:MessageIdentifier>
        <ojp:InitialInput>
          <ojp:LocationName>%[4]s</ojp:LocationName>
        </ojp:InitialInput>
        <ojp:Restrictions>
          <ojp:Type>stop</ojp:Type>
          <ojp:NumberOfResults>%[5]d</ojp:NumberOfResults>
        </ojp:Restrictions>
      </ojp:OJPLocationInformationRequest>
    </siri:ServiceRequest>
  </ojp:OJPRequest>
</ojp:OJP>`

const tripRequest = `<?xml version="1.0" encoding="UTF-8"?>
<ojp:OJP xmlns:ojp="http://www.vdv.de/ojp" xmlns:siri="http://www.siri.org.uk/siri" version="1.0">
  <ojp:OJPRequest>
    <siri:ServiceRequest>
      <siri:RequestTimestamp>%[1]s</siri:RequestTimestamp>
      <siri:RequestorRef>%[2]s</siri:RequestorRef>
      <ojp:OJPTripRequest>
        <siri:RequestTimestamp>%[1]s</siri:RequestTimestamp>
        <siri:MessageIdentifier>%[3]s</siri:MessageIdentifier>
        <ojp:Origin>
          <ojp:PlaceRef>
            <ojp:StopPlaceRef>%[4]s</ojp:StopPlaceRef>
          </ojp:PlaceRef>
          <ojp:DepArrTime>%[6]s</ojp:DepArrTime>
        </ojp:Origin>
        <ojp:Destination>
          <ojp:PlaceRef>
            <ojp:StopPlaceRef>%[5]s</ojp:StopPlaceRef>
          </ojp:PlaceRef>
        </ojp:Destination>
        <ojp:Params>
          <ojp:NumberOfResults>%[7]d</ojp:NumberOfResults>
          <ojp:IncludeTrackSections>true</ojp:IncludeTrackSections>
          <ojp:IncludeTurnDescription>false</ojp:IncludeTurnDescription>
          <ojp:IncludeIntermediateStops>true</ojp:IncludeIntermediateStops>
        </ojp:Params>
      </ojp:OJPTripRequest>
    </siri:ServiceRequest>
  </ojp:OJPRequest>
</ojp:OJP>`

func buildLocationRequest(requestor, query string, limit int, now time.Time) []byte {
	return []byte(fmt.Sprintf(locationRequest,
		timestamp(now), escape(requestor), uuid.NewString(), escape(query), limit))
}

func buildTripRequest(requestor string, req TripRequest, now time.Time) []byte {
	departure := req.Departure
	if departure.IsZero() {
		departure = now
	}
	return []byte(fmt.Sprintf(tripRequest,
		timestamp(now), escape(requestor), uuid.NewString(),
		escape(req.OriginID), escape(req.DestinationID), timestamp(departure), req.NumResults))
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
