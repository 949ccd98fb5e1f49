package client

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/rpc/common"
	"github.com/stratadb/strata/rpc/transport"
)

var log = logger.GetLogger("client")

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client sends commands to a server over the plaintext wire format. One
// request is in flight at a time; on connection errors the client fails
// over to the next configured endpoint and retries with backoff.
//
// Thread-safety: all methods are safe for concurrent use, exchanges are
// serialized behind a mutex.
type Client struct {
	config common.ClientConfig

	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
	next int // index of the endpoint to dial next
}

// NewClient creates a client for the given endpoints. The connection is
// established lazily on the first exchange.
func NewClient(conf common.ClientConfig) (*Client, error) {
	if len(conf.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints provided")
	}
	return &Client{config: conf}, nil
}

// Do sends the request and returns the server's response. Failed exchanges
// are retried up to the configured retry count, rotating through the
// endpoints with exponential backoff.
func (c *Client) Do(req *command.Request) (*command.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxRetries := c.config.RetryCount
	if maxRetries < 1 {
		maxRetries = 1
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		resp, err := c.exchange(req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		log.Debugf("request attempt %d/%d failed: %v", i+1, maxRetries, err)

		if i < maxRetries-1 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}
	}

	return nil, fmt.Errorf("failed to send request after %d attempts: %v", maxRetries, lastErr)
}

// Close tears down the connection. The client may be reused, the next
// exchange reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// exchange performs one request/response roundtrip. Caller must hold mu.
func (c *Client) exchange(req *command.Request) (*command.Response, error) {
	if c.conn == nil {
		if err := c.connect(); err != nil {
			return nil, err
		}
	}

	if c.config.TimeoutSecond > 0 {
		timeout := time.Duration(c.config.TimeoutSecond) * time.Second
		if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			c.drop()
			return nil, err
		}
	}

	if _, err := c.conn.Write(req.Serialize()); err != nil {
		c.drop()
		return nil, fmt.Errorf("writing request: %v", err)
	}

	resp, err := command.ParseResponse(c.br)
	if err != nil {
		c.drop()
		return nil, fmt.Errorf("reading response: %v", err)
	}
	return resp, nil
}

// connect dials the endpoints round robin until one accepts. Caller must
// hold mu.
func (c *Client) connect() error {
	timeout := time.Duration(c.config.TimeoutSecond) * time.Second

	for range c.config.Endpoints {
		endpoint := c.config.Endpoints[c.next%len(c.config.Endpoints)]
		c.next++

		conn, err := transport.Dial(endpoint, timeout)
		if err != nil {
			log.Warningf("failed to connect to %s: %v", endpoint, err)
			continue
		}

		log.Debugf("connected to %s", endpoint)
		c.conn = conn
		c.br = bufio.NewReader(conn)
		return nil
	}
	return fmt.Errorf("failed to connect to any endpoint")
}

// drop closes the current connection so the next exchange dials fresh.
// Caller must hold mu.
func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.br = nil
	}
}
