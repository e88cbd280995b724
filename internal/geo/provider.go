package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gustycube/podwatch/internal/httpclient"
	"github.com/gustycube/podwatch/internal/model"
)

// ErrRejected is returned when a provider answered but declined the lookup
// (reserved range, quota, unknown address). Retrying will not help.
var ErrRejected = errors.New("geo: provider rejected lookup")

// Provider resolves a public IP address to a location.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (model.Location, error)
}

const (
	IPAPIURL    = "http://ip-api.com"
	IPAPICoURL  = "https://ipapi.co"
	IPWhoIsURL  = "https://ipwho.is"
	maxGeoBytes = 64 << 10
)

// HTTPProvider is a JSON-over-HTTP geolocation service.
type HTTPProvider struct {
	name   string
	url    func(ip string) string
	parse  func(body []byte) (model.Location, error)
	client *httpclient.ResilientClient
}

func (p *HTTPProvider) Name() string { return p.name }

// Lookup calls the provider through the circuit breaker named after it.
func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (model.Location, error) {
	resp, err := p.client.GetWithContext(ctx, p.name, p.url(ip))
	if err != nil {
		return model.Location{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGeoBytes))
	if err != nil {
		return model.Location{}, err
	}
	if resp.StatusCode/100 != 2 {
		return model.Location{}, fmt.Errorf("%w: %s: http %d", ErrRejected, p.name, resp.StatusCode)
	}
	loc, err := p.parse(body)
	if err != nil {
		return model.Location{}, fmt.Errorf("%s: %w", p.name, err)
	}
	if strings.TrimSpace(loc.Country) == "" {
		return model.Location{}, fmt.Errorf("%w: %s: empty country", ErrRejected, p.name)
	}
	return loc.Normalize(), nil
}

func trimBase(base, def string) string {
	if base == "" {
		base = def
	}
	return strings.TrimRight(base, "/")
}

// NewIPAPI returns the ip-api.com provider. An empty base selects the
// public endpoint.
func NewIPAPI(client *httpclient.ResilientClient, base string) *HTTPProvider {
	base = trimBase(base, IPAPIURL)
	return &HTTPProvider{
		name:   "ip-api",
		client: client,
		url: func(ip string) string {
			return base + "/json/" + ip + "?fields=status,message,country,regionName,city,lat,lon,timezone"
		},
		parse: func(body []byte) (model.Location, error) {
			var r struct {
				Status     string  `json:"status"`
				Message    string  `json:"message"`
				Country    string  `json:"country"`
				RegionName string  `json:"regionName"`
				City       string  `json:"city"`
				Lat        float64 `json:"lat"`
				Lon        float64 `json:"lon"`
				Timezone   string  `json:"timezone"`
			}
			if err := json.Unmarshal(body, &r); err != nil {
				return model.Location{}, err
			}
			if r.Status != "success" {
				return model.Location{}, fmt.Errorf("%w: %s", ErrRejected, r.Message)
			}
			return model.Location{Country: r.Country, Region: r.RegionName, City: r.City, Latitude: r.Lat, Longitude: r.Lon, Timezone: r.Timezone}, nil
		},
	}
}

// NewIPAPICo returns the ipapi.co provider.
func NewIPAPICo(client *httpclient.ResilientClient, base string) *HTTPProvider {
	base = trimBase(base, IPAPICoURL)
	return &HTTPProvider{
		name:   "ipapi.co",
		client: client,
		url:    func(ip string) string { return base + "/" + ip + "/json/" },
		parse: func(body []byte) (model.Location, error) {
			var r struct {
				Error       bool    `json:"error"`
				Reason      string  `json:"reason"`
				CountryName string  `json:"country_name"`
				Region      string  `json:"region"`
				City        string  `json:"city"`
				Latitude    float64 `json:"latitude"`
				Longitude   float64 `json:"longitude"`
				Timezone    string  `json:"timezone"`
			}
			if err := json.Unmarshal(body, &r); err != nil {
				return model.Location{}, err
			}
			if r.Error {
				return model.Location{}, fmt.Errorf("%w: %s", ErrRejected, r.Reason)
			}
			return model.Location{Country: r.CountryName, Region: r.Region, City: r.City, Latitude: r.Latitude, Longitude: r.Longitude, Timezone: r.Timezone}, nil
		},
	}
}

// NewIPWhoIs returns the ipwho.is provider.
func NewIPWhoIs(client *httpclient.ResilientClient, base string) *HTTPProvider {
	base = trimBase(base, IPWhoIsURL)
	return &HTTPProvider{
		name:   "ipwho.is",
		client: client,
		url:    func(ip string) string { return base + "/" + ip },
		parse: func(body []byte) (model.Location, error) {
			var r struct {
				Success   bool    `json:"success"`
				Message   string  `json:"message"`
				Country   string  `json:"country"`
				Region    string  `json:"region"`
				City      string  `json:"city"`
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
				Timezone  struct {
					ID string `json:"id"`
				} `json:"timezone"`
			}
			if err := json.Unmarshal(body, &r); err != nil {
				return model.Location{}, err
			}
			if !r.Success {
				return model.Location{}, fmt.Errorf("%w: %s", ErrRejected, r.Message)
			}
			return model.Location{Country: r.Country, Region: r.Region, City: r.City, Latitude: r.Latitude, Longitude: r.Longitude, Timezone: r.Timezone.ID}, nil
		},
	}
}

// DefaultProviders returns ip-api, ipapi.co and ipwho.is in priority order.
func DefaultProviders(client *httpclient.ResilientClient) []Provider {
	return []Provider{NewIPAPI(client, ""), NewIPAPICo(client, ""), NewIPWhoIs(client, "")}
}
