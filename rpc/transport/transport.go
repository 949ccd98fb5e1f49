package transport

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// Listen creates a listener for the endpoint. Endpoints of the form
// "unix:///path/to.sock" bind a unix domain socket, anything else is a TCP
// address.
func Listen(endpoint string) (net.Listener, error) {
	network, address := resolve(endpoint)
	if network == "unix" {
		// a previous run may have left the socket file behind
		if err := os.RemoveAll(address); err != nil {
			return nil, fmt.Errorf("failed to remove existing socket: %v", err)
		}
	}
	return net.Listen(network, address)
}

// Dial connects to the endpoint. A timeout of zero means no limit on
// connection establishment.
func Dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	network, address := resolve(endpoint)
	if timeout > 0 {
		return net.DialTimeout(network, address, timeout)
	}
	return net.Dial(network, address)
}

// resolve splits an endpoint into the network and address accepted by the
// net package.
func resolve(endpoint string) (network, address string) {
	if path, ok := strings.CutPrefix(endpoint, "unix://"); ok {
		return "unix", path
	}
	return "tcp", endpoint
}
