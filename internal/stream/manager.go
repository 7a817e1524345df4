package stream

import (
	"log"
	"sync"

	"github.com/oremus-labs/ragmon/internal/sse"
)

// Manager owns at most one Connection per URL.
type Manager struct {
	opts Options

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewManager builds a manager whose connections use opts.
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:  opts.withDefaults(),
		conns: make(map[string]*Connection),
	}
}

var (
	sharedOnce    sync.Once
	sharedManager *Manager
)

// Shared returns the process-wide manager. Every consumer in the process mounts
// on it so that one URL is read over one connection.
func Shared() *Manager {
	sharedOnce.Do(func() {
		sharedManager = NewManager(Options{})
	})
	return sharedManager
}

// EnsureStarted returns the connection for url, opening it on first use.
// Credentials of the first caller are kept for the life of the connection.
func (m *Manager) EnsureStarted(url string, creds sse.Credentials) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.conns[url]; ok {
		return conn
	}
	conn := newConnection(url, creds, m.opts)
	conn.start()
	m.conns[url] = conn
	return conn
}

// SetLogger replaces the logger of connections started after the call.
func (m *Manager) SetLogger(logger *log.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Logger = logger
}

// Stop tears down the connection for url. A later EnsureStarted opens a new one.
func (m *Manager) Stop(url string) {
	m.mu.Lock()
	conn, ok := m.conns[url]
	delete(m.conns, url)
	m.mu.Unlock()

	if ok {
		conn.Stop()
	}
}

// StopAll tears down every connection.
func (m *Manager) StopAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Stop()
	}
}

func (m *Manager) options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}
