package outbound

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("outbound")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// defaultTimeout bounds a single outbound call when no timeout is given.
	defaultTimeout = 60 * time.Second

	// maxResponseBytes bounds the response body read from a peer.
	maxResponseBytes = 8 << 20
)

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// Transaction is one outbound HTTP call. The result fields (StatusCode,
// Body, Err) must only be read after Done is closed.
type Transaction struct {
	ID          string
	Method      string
	URL         string
	RequestBody string

	StatusCode int
	Body       []byte
	Err        error

	manager   *Manager
	cancel    context.CancelFunc
	done      chan struct{}
	completed atomic.Bool
}

// Owner returns the manager that opened this transaction, or nil if the
// transaction was constructed without one. A nil owner is the defect state
// the pipeline's cleanup logs.
func (t *Transaction) Owner() *Manager {
	return t.manager
}

// Done returns a channel that is closed once the call has completed (or
// failed, or was cancelled).
func (t *Transaction) Done() <-chan struct{} {
	if t.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return t.done
}

// Completed reports whether the call has finished.
//
// Thread-safety: safe to call concurrently with the transaction running.
func (t *Transaction) Completed() bool {
	return t.completed.Load()
}

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

// Manager opens and tracks outbound transactions.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	client *http.Client
	open   *xsync.MapOf[string, *Transaction]
}

// NewManager creates a Manager whose calls are bounded by timeout
// (0 = default).
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Manager{
		client: &http.Client{Timeout: timeout},
		open:   xsync.NewMapOf[string, *Transaction](),
	}
}

// OpenTransaction registers a new transaction owned by this manager and
// starts the call on its own goroutine. The returned transaction is live
// until CloseTransaction releases it.
func (m *Manager) OpenTransaction(method, url, body string) *Transaction {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transaction{
		ID:          uuid.NewString(),
		Method:      method,
		URL:         url,
		RequestBody: body,
		manager:     m,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	m.open.Store(t.ID, t)
	metrics.GetOrCreateCounter(`strata_outbound_transactions_total{event="opened"}`).Inc()
	go m.run(ctx, t)
	return t
}

// Get looks up a live transaction by ID.
func (m *Manager) Get(id string) (*Transaction, bool) {
	return m.open.Load(id)
}

// Outstanding returns the number of transactions not yet closed.
func (m *Manager) Outstanding() int {
	return m.open.Size()
}

// CloseTransaction releases a transaction: the in-flight call (if any) is
// cancelled and the transaction is dropped from the live set. Closing a nil
// or already-closed transaction is a no-op.
func (m *Manager) CloseTransaction(t *Transaction) {
	if t == nil {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	if _, present := m.open.LoadAndDelete(t.ID); present {
		metrics.GetOrCreateCounter(`strata_outbound_transactions_total{event="closed"}`).Inc()
	}
}

// Close cancels and releases every live transaction. Used at node teardown.
func (m *Manager) Close() error {
	m.open.Range(func(_ string, t *Transaction) bool {
		m.CloseTransaction(t)
		return true
	})
	return nil
}

// run performs the call and publishes the result.
func (m *Manager) run(ctx context.Context, t *Transaction) {
	defer func() {
		t.completed.Store(true)
		close(t.done)
	}()

	req, err := http.NewRequestWithContext(ctx, t.Method, t.URL, strings.NewReader(t.RequestBody))
	if err != nil {
		t.Err = err
		log.Warningf("outbound %s %s: %v", t.Method, t.URL, err)
		metrics.GetOrCreateCounter(`strata_outbound_transactions_total{event="failed"}`).Inc()
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		t.Err = err
		log.Warningf("outbound %s %s: %v", t.Method, t.URL, err)
		metrics.GetOrCreateCounter(`strata_outbound_transactions_total{event="failed"}`).Inc()
		return
	}
	defer resp.Body.Close()

	t.StatusCode = resp.StatusCode
	t.Body, t.Err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	metrics.GetOrCreateCounter(`strata_outbound_transactions_total{event="completed"}`).Inc()
}
