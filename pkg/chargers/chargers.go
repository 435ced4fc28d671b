// Package chargers builds a static list of public EV charging stations from Open Charge Map.
//
// Several circular regions are queried and the stations are merged into one list, deduplicated by
// their Open Charge Map id.
package chargers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/fleetflea/geotab-admin/internal/log"
)

const (
	DefaultEndpoint   = "https://api.openchargemap.io/v3/poi/"
	DefaultTimeout    = 20 * time.Second
	DefaultMaxResults = 150
	DefaultParallel   = 3

	// DefaultName is used for stations without a title.
	DefaultName = "EV Charger"
	// UnknownConnectors is reported when a station does not state its number of points.
	UnknownConnectors = "?"
)

var ErrNoKey = errors.New("Open Charge Map API key required")

// Region is a circle of Distance miles around a point.
type Region struct {
	Label    string
	Lat      float64
	Lng      float64
	Distance int
}

// DefaultRegions covers the metro areas the demo fleet operates in.
var DefaultRegions = []Region{
	{Label: "Toronto", Lat: 43.36, Lng: -79.65, Distance: 50},
	{Label: "Chicago", Lat: 41.85, Lng: -87.65, Distance: 80},
	{Label: "Phoenix", Lat: 33.45, Lng: -112.07, Distance: 80},
	{Label: "Houston", Lat: 29.76, Lng: -95.37, Distance: 80},
	{Label: "Denver", Lat: 39.73, Lng: -104.98, Distance: 80},
	{Label: "Nashville", Lat: 36.17, Lng: -86.78, Distance: 80},
}

// Station is one record of the output file.
type Station struct {
	Lat        float64     `json:"lat"`
	Lng        float64     `json:"lng"`
	Name       string      `json:"name"`
	Address    string      `json:"address"`
	Connectors interface{} `json:"connectors"` // Number of points, or UnknownConnectors.
	PowerKW    *float64    `json:"powerKW"`
}

type addressInfo struct {
	Title        *string `json:"Title"`
	AddressLine1 *string `json:"AddressLine1"`
	Latitude     float64 `json:"Latitude"`
	Longitude    float64 `json:"Longitude"`
}

type connection struct {
	PowerKW *float64 `json:"PowerKW"`
}

// poi is the subset of an Open Charge Map point of interest that is used.
type poi struct {
	ID             int          `json:"ID"`
	AddressInfo    *addressInfo `json:"AddressInfo"`
	NumberOfPoints int          `json:"NumberOfPoints"`
	Connections    []connection `json:"Connections"`
}

// project converts p to a Station. Points without an id or coordinates are rejected.
func project(p poi) (Station, bool) {
	ai := p.AddressInfo
	if p.ID == 0 || ai == nil || ai.Latitude == 0 || ai.Longitude == 0 {
		return Station{}, false
	}
	s := Station{
		Lat:        ai.Latitude,
		Lng:        ai.Longitude,
		Name:       DefaultName,
		Connectors: UnknownConnectors,
	}
	if ai.Title != nil {
		s.Name = *ai.Title
	}
	if ai.AddressLine1 != nil {
		s.Address = *ai.AddressLine1
	}
	if p.NumberOfPoints != 0 {
		s.Connectors = p.NumberOfPoints
	}
	if len(p.Connections) > 0 {
		s.PowerKW = p.Connections[0].PowerKW
	}
	return s, true
}

// RegionResult reports how one region contributed to the merged list.
type RegionResult struct {
	Region  Region
	Fetched int // Points returned by the server.
	Added   int // Stations not already contributed by an earlier region.
	Err     error
}

// Fetcher queries Open Charge Map.
type Fetcher struct {
	Key        string
	Endpoint   string
	MaxResults int
	// Parallel bounds the number of concurrent region queries.
	Parallel int

	client *resty.Client
}

// NewFetcher returns a Fetcher using key, with the default endpoint and a 20 second timeout.
func NewFetcher(key string) *Fetcher {
	return &Fetcher{
		Key:        key,
		Endpoint:   DefaultEndpoint,
		MaxResults: DefaultMaxResults,
		Parallel:   DefaultParallel,
		client: resty.New().
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json"),
	}
}

// Client exposes the underlying resty client, e.g. to install a test transport.
func (f *Fetcher) Client() *resty.Client {
	return f.client
}

func (f *Fetcher) fetchRegion(ctx context.Context, r Region) ([]poi, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"output":       "json",
			"key":          f.Key,
			"latitude":     strconv.FormatFloat(r.Lat, 'f', -1, 64),
			"longitude":    strconv.FormatFloat(r.Lng, 'f', -1, 64),
			"distance":     strconv.Itoa(r.Distance),
			"distanceunit": "Miles",
			"maxresults":   strconv.Itoa(f.MaxResults),
			"compact":      "true",
			"verbose":      "false",
		}).
		Get(f.Endpoint)
	if err != nil {
		return nil, err
	}
	log.Debug("%s: server returned %s: %d bytes", r.Label, resp.Status(), len(resp.Body()))
	if resp.IsError() {
		return nil, fmt.Errorf("server returned %s", resp.Status())
	}
	var points []poi
	if err := json.Unmarshal(resp.Body(), &points); err != nil {
		return nil, fmt.Errorf("unable to parse server response: %w", err)
	}
	return points, nil
}

// Fetch queries every region and merges the stations in region order, so the output does not
// depend on which query finishes first. A region that fails is reported in its RegionResult and
// skipped. The returned error is non-nil only if ctx is cancelled.
func (f *Fetcher) Fetch(ctx context.Context, regions []Region) ([]Station, []RegionResult, error) {
	if f.Key == "" {
		return nil, nil, ErrNoKey
	}
	points := make([][]poi, len(regions))
	results := make([]RegionResult, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	if f.Parallel > 0 {
		g.SetLimit(f.Parallel)
	}
	for i, region := range regions {
		g.Go(func() error {
			results[i].Region = region
			p, err := f.fetchRegion(gctx, region)
			if err != nil {
				log.Warning("Fetching %s failed: %s", region.Label, err)
				results[i].Err = err
				return nil
			}
			points[i] = p
			results[i].Fetched = len(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	seen := make(map[int]bool)
	var stations []Station
	for i := range regions {
		for _, p := range points[i] {
			if seen[p.ID] {
				continue
			}
			s, ok := project(p)
			if !ok {
				continue
			}
			seen[p.ID] = true
			stations = append(stations, s)
			results[i].Added++
		}
	}
	return stations, results, nil
}

// Encode returns stations as a compact JSON array.
func Encode(stations []Station) ([]byte, error) {
	if stations == nil {
		stations = []Station{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(stations); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WriteFile writes stations to filename and returns the number of bytes written.
func WriteFile(filename string, stations []Station) (int, error) {
	data, err := Encode(stations)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return 0, err
	}
	return len(data), nil
}

// PrintResults writes one line per region.
func PrintResults(w io.Writer, results []RegionResult) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "  failed %s: %s\n", r.Region.Label, r.Err)
			continue
		}
		fmt.Fprintf(w, "  %s: %d fetched, %d new unique\n", r.Region.Label, r.Fetched, r.Added)
	}
}
