// Package translatortest provides an in-process websocket server that speaks
// the translation endpoint's framing, for use in tests.
package translatortest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/speech-translator/internal/translator"
)

// Handler drives one accepted websocket. The connection is closed when it returns.
type Handler func(conn *websocket.Conn, r *http.Request)

// Message is one complete websocket message read by the server
type Message struct {
	Type int
	Data []byte
}

// Server is a TLS websocket server for translator clients
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader
	handler  Handler

	mu       sync.Mutex
	reject   int
	requests []*http.Request
	wg       sync.WaitGroup
}

// NewServer starts a server that runs h for every accepted connection
func NewServer(h Handler) *Server {
	s := &Server{handler: h}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Clone(r.Context()))
	reject := s.reject
	s.mu.Unlock()

	if reject != 0 {
		http.Error(w, http.StatusText(reject), reject)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.handler != nil {
		s.handler(conn, r)
	}
}

// Reject makes later handshakes fail with status instead of upgrading
func (s *Server) Reject(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = status
}

// Hostname is the host:port clients should connect to
func (s *Server) Hostname() string {
	return strings.TrimPrefix(s.URL, "https://")
}

// Dialer trusts the server's self-signed certificate
func (s *Server) Dialer() *websocket.Dialer {
	transport := s.Client().Transport.(*http.Transport)
	return &websocket.Dialer{
		TLSClientConfig: transport.TLSClientConfig.Clone(),
		Proxy:           http.ProxyFromEnvironment,
	}
}

// ClientOption configures a translator.Client to dial this server
func (s *Server) ClientOption() translator.ClientOption {
	return translator.WithDialer(s.Dialer())
}

// Requests returns the handshake requests seen so far
func (s *Server) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// Wait blocks until every handler has returned
func (s *Server) Wait() {
	s.wg.Wait()
}

// ReadUntilClose reads messages until the peer closes the socket or an error
// occurs, answering a close frame with a normal closure.
func ReadUntilClose(conn *websocket.Conn, fn func(Message)) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if fn != nil {
			fn(Message{Type: mt, Data: data})
		}
	}
}

// CloseNormally sends a normal closure frame
func CloseNormally(conn *websocket.Conn) error {
	return CloseWith(conn, websocket.CloseNormalClosure, "")
}

// CloseWith sends a close frame with the given code and reason
func CloseWith(conn *websocket.Conn, code int, reason string) error {
	return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
