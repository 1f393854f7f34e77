package c2

import (
	"github.com/stretchr/testify/mock"

	"remora.dev/agent/bufferqueue"
)

type MockHost struct {
	mock.Mock
}

func (m *MockHost) Reachable() {
	m.Called()
}

func (m *MockHost) Unreachable() {
	m.Called()
}

func (m *MockHost) DeliverInbound(queue *bufferqueue.Queue) {
	m.Called(queue)
}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransport) Egress(data []byte) {
	m.Called(data)
}

func (m *MockTransport) Stop() {
	m.Called()
}

func (m *MockTransport) Close(reason error) {
	m.Called()
}

func (m *MockTransport) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(chan struct{})
}

func (m *MockTransport) Err() error {
	args := m.Called()
	return args.Error(0)
}
