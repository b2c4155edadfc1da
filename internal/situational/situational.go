// Package situational produces the free-form context record (locale,
// weather) attached to prompts. It is best-effort: every failure path falls
// back to configured defaults so a lookup can never fail a turn.
package situational

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Keys the prompt assembler renders specially.
const (
	KeyLocation    = "location"
	KeyTemperature = "temperature"
)

// Context is an opaque key/value record consumed by the prompt assembler.
type Context map[string]string

// Provider resolves situational context for an inbound event. clientIP may be
// empty when the originating channel has no usable address (long polling).
type Provider interface {
	Lookup(ctx context.Context, clientIP string) Context
}

// GeoProvider resolves the caller's city via ipwho.is and the day's max
// temperature via open-meteo.
type GeoProvider struct {
	logger      *slog.Logger
	client      *http.Client
	geoBase     string
	weatherBase string
	defaults    Context
}

// NewGeoProvider creates a provider with the given defaults (location and
// temperature) and per-lookup timeout.
func NewGeoProvider(log *slog.Logger, location, temperature string, timeout time.Duration) *GeoProvider {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &GeoProvider{
		logger:      log.With(slog.String("component", "situational")),
		client:      &http.Client{Timeout: timeout},
		geoBase:     "https://ipwho.is",
		weatherBase: "https://api.open-meteo.com",
		defaults: Context{
			KeyLocation:    location,
			KeyTemperature: temperature,
		},
	}
}

// Lookup resolves location and temperature for clientIP. Private, loopback,
// or unresolvable addresses yield the defaults.
func (p *GeoProvider) Lookup(ctx context.Context, clientIP string) Context {
	out := Context{
		KeyLocation:    p.defaults[KeyLocation],
		KeyTemperature: p.defaults[KeyTemperature],
	}
	ip := strings.TrimSpace(clientIP)
	if ip == "" || isPrivateIP(ip) {
		return out
	}

	geo, err := p.fetchGeo(ctx, ip)
	if err != nil || geo.City == "" {
		if err != nil {
			p.logger.Debug("geo lookup failed", slog.Any("error", err))
		}
		return out
	}
	out[KeyLocation] = geo.City

	temp, err := p.fetchMaxTemperature(ctx, geo.Latitude, geo.Longitude)
	if err != nil {
		p.logger.Debug("weather lookup failed", slog.Any("error", err))
		return out
	}
	out[KeyTemperature] = temp
	return out
}

type geoResponse struct {
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p *GeoProvider) fetchGeo(ctx context.Context, ip string) (geoResponse, error) {
	var geo geoResponse
	url := fmt.Sprintf("%s/%s", p.geoBase, ip)
	if err := p.getJSON(ctx, url, &geo); err != nil {
		return geoResponse{}, err
	}
	return geo, nil
}

type weatherResponse struct {
	Daily struct {
		TemperatureMax []float64 `json:"temperature_2m_max"`
	} `json:"daily"`
}

func (p *GeoProvider) fetchMaxTemperature(ctx context.Context, lat, lon float64) (string, error) {
	url := fmt.Sprintf("%s/v1/forecast?latitude=%f&longitude=%f&daily=temperature_2m_max", p.weatherBase, lat, lon)
	var w weatherResponse
	if err := p.getJSON(ctx, url, &w); err != nil {
		return "", err
	}
	if len(w.Daily.TemperatureMax) == 0 {
		return "", fmt.Errorf("no temperature data")
	}
	return fmt.Sprintf("%.0f", w.Daily.TemperatureMax[0]), nil
}

func (p *GeoProvider) getJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func isPrivateIP(ip string) bool {
	for _, prefix := range []string{"10.", "172.", "192.168.", "127."} {
		if strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}

// Static is a Provider returning a fixed context, used when no lookup source
// exists for a channel.
type Static Context

// Lookup returns the fixed context.
func (s Static) Lookup(_ context.Context, _ string) Context {
	out := make(Context, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
