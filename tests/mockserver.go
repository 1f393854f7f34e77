package tests

import (
	"net/http"
	"net/http/httptest"
)

type MockServer struct {
	server *httptest.Server

	Addr string
}

type MockHandler struct {
	Endpoint    string
	HandlerFunc http.HandlerFunc
}

func NewMockServer(handlers ...MockHandler) *MockServer {
	mux := http.NewServeMux()

	for _, handler := range handlers {
		mux.HandleFunc(handler.Endpoint, handler.HandlerFunc)
	}

	s := httptest.NewServer(mux)

	return &MockServer{
		server: s,
		Addr:   s.URL,
	}
}

// NewMockTLSServer serves the same handlers over TLS with a self-signed
// certificate, which is what a channel with peer verification disabled
// expects to talk to.
func NewMockTLSServer(handlers ...MockHandler) *MockServer {
	mux := http.NewServeMux()

	for _, handler := range handlers {
		mux.HandleFunc(handler.Endpoint, handler.HandlerFunc)
	}

	s := httptest.NewTLSServer(mux)

	return &MockServer{
		server: s,
		Addr:   s.URL,
	}
}

func (m *MockServer) Close() {
	m.server.Close()
}
