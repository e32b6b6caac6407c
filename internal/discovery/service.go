package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go2tv.app/castkey/internal/adapters"
	"go2tv.app/castkey/internal/domain"
	"go2tv.app/go2tv/v2/devices"
)

const (
	DefaultTimeout  = 2500 * time.Millisecond
	FallbackTimeout = 12 * time.Second

	defaultDiscoveryDelaySeconds = 1
	maxPerAttemptTimeout         = 3 * time.Second
)

type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	once    sync.Once
}

func NewService(adapter adapters.Discovery, loopCtx context.Context) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}

	return &Service{
		adapter: adapter,
		loopCtx: loopCtx,
	}
}

// List returns every receiver seen within timeout, Cast receivers first.
// A timeout with nothing found is an empty list, not an error.
func (s *Service) List(ctx context.Context, timeout time.Duration) ([]domain.Device, error) {
	if s.adapter == nil {
		return nil, errors.New("discovery adapter is not configured")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	type loadResult struct {
		devices []devices.Device
		err     error
	}
	resultCh := make(chan loadResult, 1)

	go func() {
		loaded, err := s.loadUntil(ctx, time.Now().Add(timeout))
		resultCh <- loadResult{devices: loaded, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return []domain.Device{}, nil
	case result := <-resultCh:
		if result.err != nil {
			if errors.Is(result.err, devices.ErrNoDeviceAvailable) {
				return []domain.Device{}, nil
			}
			return nil, result.err
		}

		normalized := normalizeDevices(result.devices)
		sortDevices(normalized)
		return normalized, nil
	}
}

// Find resolves target by id or friendly name. Discovery runs once with
// DefaultTimeout and again with FallbackTimeout before giving up, since
// receivers answering mDNS late are common right after the loop starts.
func (s *Service) Find(ctx context.Context, target string) (*domain.Device, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, domain.NewError(domain.KindDeviceNotFound, "device name is empty")
	}

	var seen []domain.Device
	for _, timeout := range []time.Duration{DefaultTimeout, FallbackTimeout} {
		devs, err := s.List(ctx, timeout)
		if err != nil {
			return nil, domain.WrapError(domain.KindDeviceNotFound, "device discovery failed", err)
		}
		if matched := MatchTarget(devs, target); matched != nil {
			return matched, nil
		}
		seen = devs
	}

	notFound := domain.NewError(domain.KindDeviceNotFound, fmt.Sprintf("cast device named %q not found", target))
	for _, dev := range seen {
		notFound.Hints = append(notFound.Hints, fmt.Sprintf("seen: %q (%s)", dev.Name, dev.Kind()))
	}
	if len(seen) == 0 {
		notFound.Hints = append(notFound.Hints, "no receivers answered; check that this machine and the receiver share a network")
	}
	return nil, notFound
}

// MatchTarget prefers exact id, then exact name, then case-insensitive name
// with a trailing " (Model)" suffix ignored.
func MatchTarget(all []domain.Device, target string) *domain.Device {
	target = strings.TrimSpace(target)
	normalizedTarget := normalizeTarget(target)

	for i := range all {
		if strings.TrimSpace(all[i].ID) == target {
			return &all[i]
		}
	}
	for i := range all {
		if strings.TrimSpace(all[i].Name) == target {
			return &all[i]
		}
	}
	for i := range all {
		if strings.EqualFold(strings.TrimSpace(all[i].Name), target) {
			return &all[i]
		}
		if normalizeTarget(all[i].Name) == normalizedTarget {
			return &all[i]
		}
	}
	return nil
}

func normalizeTarget(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if idx := strings.LastIndex(normalized, " ("); idx > 0 && strings.HasSuffix(normalized, ")") {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	return normalized
}

func (s *Service) loadUntil(ctx context.Context, deadline time.Time) ([]devices.Device, error) {
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if errors.Is(lastErr, devices.ErrNoDeviceAvailable) || lastErr == nil {
				return []devices.Device{}, nil
			}
			return nil, lastErr
		}

		attempt := min(remaining, maxPerAttemptTimeout)
		loaded, err := s.adapter.LoadAllDevices(timeoutToDelaySeconds(attempt))
		if err == nil {
			return loaded, nil
		}
		if !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, err
		}

		lastErr = err
	}
}

func timeoutToDelaySeconds(timeout time.Duration) int {
	seconds := int(math.Ceil(timeout.Seconds()))
	if seconds <= 0 {
		return defaultDiscoveryDelaySeconds
	}
	return seconds
}

func normalizeDevices(discovered []devices.Device) []domain.Device {
	result := make([]domain.Device, 0, len(discovered))
	for _, raw := range discovered {
		protocol := normalizeProtocol(raw.Type)
		address := strings.TrimSpace(raw.Addr)

		result = append(result, domain.Device{
			ID:          stableID(protocol, address),
			Name:        strings.TrimSpace(raw.Name),
			Type:        strings.TrimSpace(raw.Type),
			Address:     address,
			IsAudioOnly: raw.IsAudioOnly,
			Protocol:    protocol,
		})
	}

	return result
}

func sortDevices(all []domain.Device) {
	sort.Slice(all, func(i, j int) bool {
		if rank(all[i]) != rank(all[j]) {
			return rank(all[i]) < rank(all[j])
		}
		if !strings.EqualFold(all[i].Name, all[j].Name) {
			return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name)
		}
		return all[i].ID < all[j].ID
	})
}

func rank(dev domain.Device) int {
	switch dev.Kind() {
	case domain.ReceiverVideoCapable:
		return 0
	case domain.ReceiverAudioOnly:
		return 1
	default:
		return 2
	}
}

func stableID(protocol, address string) string {
	canonical := fmt.Sprintf("%s|%s", protocol, canonicalAddress(address))
	sum := sha1.Sum([]byte(canonical))
	return "dev_" + hex.EncodeToString(sum[:8])
}

func canonicalAddress(address string) string {
	parsed, err := url.Parse(address)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimSpace(address))
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port == "" {
		port = "8009"
	}
	return fmt.Sprintf("%s:%s", host, port)
}

func normalizeProtocol(kind string) string {
	lower := strings.ToLower(strings.TrimSpace(kind))
	if strings.Contains(lower, "chrome") || strings.Contains(lower, "cast") {
		return "chromecast"
	}
	if strings.Contains(lower, "dlna") {
		return "dlna"
	}
	return lower
}
