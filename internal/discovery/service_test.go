package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"go2tv.app/castkey/internal/domain"
	"go2tv.app/go2tv/v2/devices"
)

type fakeAdapter struct {
	loadAllDevices func(delaySeconds int) ([]devices.Device, error)
	startLoopCalls int
}

func (f *fakeAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	f.startLoopCalls++
}

func (f *fakeAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	if f.loadAllDevices == nil {
		return nil, errors.New("not configured")
	}
	return f.loadAllDevices(delaySeconds)
}

func TestListNormalizesSortsAndKeepsStableIDs(t *testing.T) {
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			return []devices.Device{
				{Name: "Kitchen Speaker (Google Home)", Addr: "http://192.168.1.30:8009", Type: "Chromecast", IsAudioOnly: true},
				{Name: "Bedroom TV", Addr: "http://192.168.1.10:1400/desc.xml", Type: "DLNA"},
				{Name: "Living Room TV", Addr: "http://192.168.1.20:8009", Type: "Chromecast"},
			}, nil
		},
	}

	svc := NewService(adapter, context.Background())

	first, err := svc.List(context.Background(), DefaultTimeout)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	second, err := svc.List(context.Background(), DefaultTimeout)
	if err != nil {
		t.Fatalf("list (second call): %v", err)
	}

	if len(first) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(first))
	}
	if adapter.startLoopCalls != 1 {
		t.Fatalf("expected discovery loop to start once, got %d", adapter.startLoopCalls)
	}

	wantKinds := []domain.ReceiverKind{domain.ReceiverVideoCapable, domain.ReceiverAudioOnly, domain.ReceiverUnsupported}
	for i, want := range wantKinds {
		if got := first[i].Kind(); got != want {
			t.Fatalf("device %d (%s): kind = %s, want %s", i, first[i].Name, got, want)
		}
	}

	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("expected stable IDs across calls at index %d", i)
		}
	}
}

func TestListTimeoutReturnsEmptyList(t *testing.T) {
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			time.Sleep(120 * time.Millisecond)
			return []devices.Device{{Name: "Late Device", Addr: "http://192.168.1.50:8009", Type: "Chromecast"}}, nil
		},
	}

	svc := NewService(adapter, context.Background())
	start := time.Now()
	items, err := svc.List(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(items) != 0 {
		t.Fatalf("expected timeout to return empty list, got %d items", len(items))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("expected timeout behavior, elapsed=%s", elapsed)
	}
}

func TestListRetriesWithinTimeoutToCatchWarmupDevices(t *testing.T) {
	callCount := 0
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			callCount++
			if callCount == 1 {
				return nil, devices.ErrNoDeviceAvailable
			}
			return []devices.Device{
				{Name: "Living Room TV", Addr: "http://192.168.1.20:8009", Type: "Chromecast"},
			}, nil
		},
	}

	svc := NewService(adapter, context.Background())
	items, err := svc.List(context.Background(), 4500*time.Millisecond)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 device, got %d", len(items))
	}
	if callCount < 2 {
		t.Fatalf("expected at least 2 discovery calls, got %d", callCount)
	}
}

func TestFindMatchesSuffixedName(t *testing.T) {
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			return []devices.Device{
				{Name: "LivingRoom (Google Home)", Addr: "http://192.168.1.30:8009", Type: "Chromecast", IsAudioOnly: true},
			}, nil
		},
	}

	svc := NewService(adapter, context.Background())
	dev, err := svc.Find(context.Background(), "livingroom")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if dev.Kind() != domain.ReceiverAudioOnly {
		t.Fatalf("expected audio-only receiver, got %s", dev.Kind())
	}
}

func TestFindEmptyNameIsDeviceNotFound(t *testing.T) {
	svc := NewService(&fakeAdapter{}, context.Background())
	_, err := svc.Find(context.Background(), "  ")
	if !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Fatalf("expected DeviceNotFound, got %v", err)
	}
}

func TestFindPropagatesDiscoveryFailureAsDeviceNotFound(t *testing.T) {
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			return nil, errors.New("mdns socket closed")
		},
	}

	svc := NewService(adapter, context.Background())
	_, err := svc.Find(context.Background(), "Kitchen")
	if !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Fatalf("expected DeviceNotFound, got %v", err)
	}
}

func TestMatchTargetPrefersIDThenExactName(t *testing.T) {
	all := []domain.Device{
		{ID: "dev_a", Name: "Den"},
		{ID: "dev_b", Name: "den"},
		{ID: "Den", Name: "Office"},
	}

	if got := MatchTarget(all, "Den"); got == nil || got.Name != "Office" {
		t.Fatalf("expected id match first, got %+v", got)
	}
	if got := MatchTarget(all, "den"); got == nil || got.ID != "dev_b" {
		t.Fatalf("expected exact name match, got %+v", got)
	}
	if got := MatchTarget(all, "Garage"); got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestTimeoutToDelaySecondsUsesCeil(t *testing.T) {
	cases := []struct {
		timeout time.Duration
		want    int
	}{
		{timeout: 2500 * time.Millisecond, want: 3},
		{timeout: 2 * time.Second, want: 2},
		{timeout: time.Millisecond, want: 1},
		{timeout: 0, want: 1},
	}

	for _, tc := range cases {
		got := timeoutToDelaySeconds(tc.timeout)
		if got != tc.want {
			t.Fatalf("timeoutToDelaySeconds(%s) = %d, want %d", tc.timeout, got, tc.want)
		}
	}
}
