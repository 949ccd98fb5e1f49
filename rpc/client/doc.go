// Package client implements the RPC client for the command server. It
// speaks the plaintext wire format over TCP or unix domain sockets and
// handles endpoint failover and retries.
//
// Key Components:
//
//   - Client: Connection management plus a single operation, Do, which
//     sends one request and waits for the response. Connection errors
//     rotate to the next configured endpoint and retry with exponential
//     backoff.
//
// Usage Example:
//
//	cli, _ := client.NewClient(common.ClientConfig{
//		Endpoints:     []string{"localhost:8888"},
//		TimeoutSecond: 5,
//		RetryCount:    3,
//	})
//	defer cli.Close()
//
//	resp, err := cli.Do(command.NewRequest("Status"))
package client
