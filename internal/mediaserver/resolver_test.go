package mediaserver

import (
	"errors"
	"testing"

	"go2tv.app/castkey/internal/domain"
)

func TestListenAddressFromDeviceRoute(t *testing.T) {
	r := NewResolver("")
	var gotDevice string
	r.listenAddressForDevice = func(deviceAddress string) (string, error) {
		gotDevice = deviceAddress
		return "192.168.1.5:43210", nil
	}

	addr, err := r.ListenAddress("http://192.168.1.20:8009")
	if err != nil {
		t.Fatalf("ListenAddress() error: %v", err)
	}
	if addr != "192.168.1.5:43210" {
		t.Fatalf("addr = %q", addr)
	}
	if gotDevice != "http://192.168.1.20:8009" {
		t.Fatalf("device address passed = %q", gotDevice)
	}
}

func TestListenAddressOverrideSkipsRouteProbe(t *testing.T) {
	r := NewResolver(" 10.0.0.7:9000 ")
	r.listenAddressForDevice = func(string) (string, error) {
		t.Fatal("route probe should not run with an override")
		return "", nil
	}

	addr, err := r.ListenAddress("http://192.168.1.20:8009")
	if err != nil {
		t.Fatalf("ListenAddress() error: %v", err)
	}
	if addr != "10.0.0.7:9000" {
		t.Fatalf("addr = %q", addr)
	}
}

func TestListenAddressRejectsUnreachableHosts(t *testing.T) {
	for _, addr := range []string{
		"127.0.0.1:8080",
		"localhost:8080",
		"[::1]:8080",
		"0.0.0.0:8080",
		"[::]:8080",
		":8080",
		"not-an-address",
	} {
		r := NewResolver(addr)
		_, err := r.ListenAddress("http://192.168.1.20:8009")
		if !errors.Is(err, domain.ErrStreamStartFailed) {
			t.Fatalf("ListenAddress(%q) error = %v, want StreamStartFailed", addr, err)
		}
	}
}

func TestListenAddressRouteFailure(t *testing.T) {
	r := NewResolver("")
	r.listenAddressForDevice = func(string) (string, error) {
		return "", errors.New("network is unreachable")
	}

	_, err := r.ListenAddress("http://192.168.1.20:8009")
	if !errors.Is(err, domain.ErrStreamStartFailed) {
		t.Fatalf("error = %v, want StreamStartFailed", err)
	}
}

func TestMediaURLEncodesAbsolutePath(t *testing.T) {
	got := MediaURL("192.168.1.5:43210", RoutePath("/home/me/Music/My Song #1.mp3"))
	want := "http://192.168.1.5:43210/home/me/Music/My%20Song%20%231.mp3"
	if got != want {
		t.Fatalf("MediaURL() = %q, want %q", got, want)
	}
}
