package broker

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockBroker is a testify mock of the Broker interface for engine tests.
type MockBroker struct {
	mock.Mock
}

// PlaceOrderBatch mocks batch submission.
func (m *MockBroker) PlaceOrderBatch(ctx context.Context, clientID string, reqs []OrderRequest) ([]PlacedOrder, error) {
	args := m.Called(ctx, clientID, reqs)
	if placed, ok := args.Get(0).([]PlacedOrder); ok {
		return placed, args.Error(1)
	}
	return nil, args.Error(1)
}

// FetchOrders mocks the full order list fetch.
func (m *MockBroker) FetchOrders(ctx context.Context, clientID string) ([]Order, error) {
	args := m.Called(ctx, clientID)
	if orders, ok := args.Get(0).([]Order); ok {
		return orders, args.Error(1)
	}
	return nil, args.Error(1)
}

// GetQuotes mocks the batched quote fetch.
func (m *MockBroker) GetQuotes(ctx context.Context, clientID string, symbols ...string) (map[string]Quote, error) {
	args := m.Called(ctx, clientID, symbols)
	if quotes, ok := args.Get(0).(map[string]Quote); ok {
		return quotes, args.Error(1)
	}
	return nil, args.Error(1)
}

// ModifyOrder mocks order re-pricing.
func (m *MockBroker) ModifyOrder(ctx context.Context, clientID, orderID string, price float64) error {
	args := m.Called(ctx, clientID, orderID, price)
	return args.Error(0)
}

// Ensure MockBroker implements Broker.
var _ Broker = (*MockBroker)(nil)
