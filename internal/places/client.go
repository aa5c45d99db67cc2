// Package places ищет ближайшие заправки через Geoapify Places API.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const FuelCategory = "service.vehicle.fuel"

var ErrUpstream = errors.New("places: upstream error")

// Place: кандидат из ответа. Поля могут отсутствовать: отбор делает вызывающий.
type Place struct {
	Name     string
	Lat, Lon float64
	HasPoint bool
	Address  string
}

type Finder interface {
	NearbyFuelStations(ctx context.Context, lat, lon float64, limit int) ([]Place, error)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

type featureCollection struct {
	Features []struct {
		Properties struct {
			Name      string `json:"name"`
			Formatted string `json:"formatted"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
	} `json:"features"`
}

func (c *Client) NearbyFuelStations(ctx context.Context, lat, lon float64, limit int) ([]Place, error) {
	q := url.Values{}
	q.Set("categories", FuelCategory)
	q.Set("bias", "proximity:"+strconv.FormatFloat(lon, 'f', -1, 64)+","+strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("limit", strconv.Itoa(limit))
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// тело может содержать ключ в echo, в ошибку не кладём
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var fc featureCollection
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&fc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}

	out := make([]Place, 0, len(fc.Features))
	for _, f := range fc.Features {
		p := Place{Name: f.Properties.Name, Address: f.Properties.Formatted}
		if len(f.Geometry.Coordinates) >= 2 {
			p.Lon, p.Lat, p.HasPoint = f.Geometry.Coordinates[0], f.Geometry.Coordinates[1], true
		}
		out = append(out, p)
	}
	return out, nil
}
