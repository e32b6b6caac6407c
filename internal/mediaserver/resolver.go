package mediaserver

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"go2tv.app/go2tv/v2/utils"

	"go2tv.app/castkey/internal/domain"
)

// Resolver picks the address the media server binds to and builds the URL a
// receiver uses to fetch the file. The host must be reachable from the
// receiver, so loopback and wildcard hosts are refused.
type Resolver struct {
	// Override is an explicit ip:port; when empty the outbound route to the
	// device decides.
	Override string

	listenAddressForDevice func(deviceAddress string) (string, error)
}

func NewResolver(override string) *Resolver {
	return &Resolver{
		Override:               strings.TrimSpace(override),
		listenAddressForDevice: utils.URLtoListenIPandPort,
	}
}

func (r *Resolver) ListenAddress(deviceAddress string) (string, error) {
	listenAddr := r.Override
	if listenAddr == "" {
		if r.listenAddressForDevice == nil {
			return "", domain.NewError(domain.KindInternal, "listen address resolver is not configured")
		}
		addr, err := r.listenAddressForDevice(deviceAddress)
		if err != nil {
			return "", domain.WrapError(domain.KindStreamStartFailed, "failed to select media listen address", err)
		}
		listenAddr = addr
	}

	if err := validateBindAddress(listenAddr); err != nil {
		return "", err
	}
	return listenAddr, nil
}

// MediaURL builds http://<listenAddr><route>, percent-encoding the route.
func MediaURL(listenAddr, route string) string {
	u := url.URL{
		Scheme: "http",
		Host:   listenAddr,
		Path:   route,
	}
	return u.String()
}

func validateBindAddress(listenAddr string) error {
	host, _, err := net.SplitHostPort(strings.TrimSpace(listenAddr))
	if err != nil {
		return domain.WrapError(domain.KindStreamStartFailed, fmt.Sprintf("invalid media bind address %q", listenAddr), err)
	}
	host = strings.TrimSpace(strings.Trim(host, "[]"))
	if host == "" || host == "0.0.0.0" || host == "::" || isLoopbackHost(host) {
		return unreachableHostError(listenAddr)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

func unreachableHostError(listenAddr string) *domain.Error {
	return &domain.Error{
		Kind:    domain.KindStreamStartFailed,
		Message: fmt.Sprintf("media address %s is not reachable from the receiver", listenAddr),
		Hints: []string{
			"Connect this machine to the same network as the receiver.",
			"Pass --listen with a LAN ip:port.",
		},
	}
}
