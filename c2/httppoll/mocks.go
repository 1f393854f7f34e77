package httppoll

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRequester struct {
	mock.Mock
}

func (m *MockRequester) Do(ctx context.Context, method string, endpoint string, body []byte) (int, []byte, error) {
	args := m.Called(method, endpoint, body)

	var responseBody []byte
	if raw := args.Get(1); raw != nil {
		responseBody = raw.([]byte)
	}
	return args.Int(0), responseBody, args.Error(2)
}
