package wire

import (
	"fmt"
	"net/url"
	"strings"
)

// Socket endpoints. Production installations share one socket cluster;
// development installations run the socket server next to the web host.
const (
	ProductionSocketURL    = "wss://sockets.chat.teamwork.com"
	developmentSocketPort  = "8181"
	productionDomainSuffix = "teamwork.com"
)

// Installation is the immutable descriptor of one server endpoint: the HTTP
// base URL plus an optional explicit socket-server override.
type Installation struct {
	base         *url.URL
	socketServer string
}

// NewInstallation parses the installation base URL. socketServer, when not
// empty, is used verbatim as the WebSocket endpoint instead of inferring one
// from the hostname.
func NewInstallation(rawURL, socketServer string) (Installation, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return Installation{}, fmt.Errorf("parse installation url %q: %w", rawURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return Installation{}, fmt.Errorf("installation url %q must carry a scheme and host", rawURL)
	}
	return Installation{base: base, socketServer: socketServer}, nil
}

// BaseURL returns a copy of the installation's HTTP base URL.
func (i Installation) BaseURL() *url.URL {
	u := *i.base
	return &u
}

// Host returns the installation hostname without a port.
func (i Installation) Host() string {
	return i.base.Hostname()
}

// SocketURL resolves the WebSocket endpoint. An explicit override is
// authoritative; production hostnames map to the shared socket cluster and
// anything else is assumed to run a development socket server on its own
// host.
func (i Installation) SocketURL() string {
	if i.socketServer != "" {
		return i.socketServer
	}
	host := i.base.Hostname()
	if host == productionDomainSuffix || strings.HasSuffix(host, "."+productionDomainSuffix) {
		return ProductionSocketURL
	}
	return "ws://" + host + ":" + developmentSocketPort
}

func (i Installation) String() string {
	return i.base.String()
}
