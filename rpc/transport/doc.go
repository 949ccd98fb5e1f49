// Package transport resolves endpoint strings to network listeners and
// connections. It lets the server and the client share one endpoint syntax
// without caring which underlying network carries the commands.
//
// Supported endpoint forms:
//   - "host:port" - a TCP address
//   - "unix:///path/to.sock" - a unix domain socket
//
// Key Components:
//
//   - Listen: Creates a listener for an endpoint, recreating the socket file
//     for unix domain sockets.
//
//   - Dial: Connects to an endpoint, with an optional timeout.
package transport
