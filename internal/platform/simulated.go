package platform

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/model"
)

const earthRadiusMeters = 6371000.0

type SimulatedOptions struct {
	Name       string
	AppVersion string
	Latitude   float64
	Longitude  float64
	// StepMeters is how far the simulated device walks between fixes.
	StepMeters float64
	Battery    int
	Now        func() time.Time
}

// Simulated is a host stand-in for development and tests. It grants every
// permission by default, walks a random path and slowly drains its battery.
type Simulated struct {
	mu       sync.Mutex
	granted  map[Permission]bool
	info     DeviceInfo
	lat      float64
	lon      float64
	heading  float64
	step     float64
	battery  int
	charging bool
	now      func() time.Time
}

func NewSimulated(opts SimulatedOptions) *Simulated {
	if opts.Name == "" {
		opts.Name = "Simulated Device"
	}
	if opts.Battery <= 0 || opts.Battery > 100 {
		opts.Battery = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Latitude == 0 && opts.Longitude == 0 {
		opts.Latitude, opts.Longitude = 37.5665, 126.9780
	}

	return &Simulated{
		granted: map[Permission]bool{
			PermissionLocationForeground: true,
			PermissionLocationBackground: true,
			PermissionNotifications:      true,
		},
		info: DeviceInfo{
			Name:       opts.Name,
			Model:      "sim-" + runtime.GOARCH,
			Brand:      "sentinelr",
			OSVersion:  runtime.GOOS,
			AppVersion: opts.AppVersion,
		},
		lat:     opts.Latitude,
		lon:     opts.Longitude,
		heading: rand.Float64() * 2 * math.Pi,
		step:    opts.StepMeters,
		battery: opts.Battery,
		now:     opts.Now,
	}
}

func (s *Simulated) Granted(_ context.Context, p Permission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted[p], nil
}

func (s *Simulated) Grant(p Permission) {
	s.mu.Lock()
	s.granted[p] = true
	s.mu.Unlock()
}

func (s *Simulated) Revoke(p Permission) {
	s.mu.Lock()
	s.granted[p] = false
	s.mu.Unlock()
	log.Debug().Str("permission", string(p)).Msg("simulated permission revoked")
}

func (s *Simulated) SetLocation(lat, lon float64) {
	s.mu.Lock()
	s.lat, s.lon = lat, lon
	s.mu.Unlock()
}

func (s *Simulated) SetCharging(charging bool) {
	s.mu.Lock()
	s.charging = charging
	s.mu.Unlock()
}

func (s *Simulated) CurrentLocation(ctx context.Context) (model.LocationPing, error) {
	if err := ctx.Err(); err != nil {
		return model.LocationPing{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step > 0 {
		s.heading += (rand.Float64() - 0.5) * math.Pi / 4
		dLat := s.step * math.Cos(s.heading) / earthRadiusMeters
		dLon := s.step * math.Sin(s.heading) / (earthRadiusMeters * math.Cos(s.lat*math.Pi/180))
		s.lat += dLat * 180 / math.Pi
		s.lon += dLon * 180 / math.Pi
	}

	return model.LocationPing{
		Latitude:  s.lat,
		Longitude: s.lon,
		Accuracy:  10,
		Timestamp: s.now(),
		Source:    model.LocationSourceBackground,
	}, nil
}

func (s *Simulated) Info() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Simulated) Battery(ctx context.Context) (BatteryStatus, error) {
	if err := ctx.Err(); err != nil {
		return BatteryStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.charging && s.battery < 100:
		s.battery++
	case !s.charging && s.battery > 1:
		s.battery--
	}
	return BatteryStatus{Level: s.battery, Charging: s.charging}, nil
}

// DistanceMeters is the great-circle distance between two fixes.
func DistanceMeters(a, b model.LocationPing) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
