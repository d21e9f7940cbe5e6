// Package gtfsrt reads GTFS-Realtime trip updates and reduces them to a
// delay per trip.
package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/transitwatch/internal/adapters"
)

type Client struct {
	http     *adapters.Client
	endpoint string

	mu   sync.Mutex
	etag string
	last *gtfsrtpb.FeedMessage
}

func NewClient(cfg adapters.Config, endpoint string) *Client {
	return &Client{
		http:     adapters.NewClient(cfg),
		endpoint: endpoint,
	}
}

// Fetch returns the current delay in whole minutes per trip id. A 304
// answer reuses the previously decoded feed.
func (c *Client) Fetch(ctx context.Context) (map[string]int, error) {
	msg, err := c.fetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("gtfs-rt: %w", err)
	}
	return Delays(msg), nil
}

func (c *Client) fetchMessage(ctx context.Context) (*gtfsrtpb.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf")

	c.mu.Lock()
	etag, last := c.etag, c.last
	c.mu.Unlock()

	if etag != "" && last != nil {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && last != nil {
		return last, nil
	}
	if err := adapters.CheckStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	msg := &gtfsrtpb.FeedMessage{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protobuf: %w", err)
	}

	c.mu.Lock()
	c.etag = resp.Header.Get("ETag")
	c.last = msg
	c.mu.Unlock()

	return msg, nil
}

// Delays maps trip ids to minutes of delay, taken from the first
// stop-time update: its arrival delay, or the departure delay when the
// arrival delay is zero. Seconds are floored to minutes.
func Delays(msg *gtfsrtpb.FeedMessage) map[string]int {
	delays := make(map[string]int)
	for _, entity := range msg.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		tripID := tu.GetTrip().GetTripId()
		updates := tu.GetStopTimeUpdate()
		if tripID == "" || len(updates) == 0 {
			continue
		}

		seconds := updates[0].GetArrival().GetDelay()
		if seconds == 0 {
			seconds = updates[0].GetDeparture().GetDelay()
		}
		delays[tripID] = floorMinutes(seconds)
	}
	return delays
}

func floorMinutes(seconds int32) int {
	m := int(seconds) / 60
	if seconds%60 != 0 && seconds < 0 {
		m--
	}
	return m
}
