package client

import (
	"sync"
	"time"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	// In-memory storage
	config      map[string]string
	connections map[string]time.Time
	watermarks  map[string]int64
	dir         string

	// Error injection
	getConfigErr    error
	setConfigErr    error
	getWatermarkErr error
	setWatermarkErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config:      make(map[string]string),
		connections: make(map[string]time.Time),
		watermarks:  make(map[string]int64),
		dir:         "/tmp/mock-state",
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}
	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}
	s.config[key] = value
	return nil
}

// GetLastConnection returns the recorded connection time
func (s *MockState) GetLastConnection(serverURL string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connections[serverURL], nil
}

// SaveSuccessfulConnection records a connection
func (s *MockState) SaveSuccessfulConnection(serverURL string, transport string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[serverURL] = time.Now()
	return nil
}

// GetNotificationWatermark returns the watermark for a channel
func (s *MockState) GetNotificationWatermark(channel string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getWatermarkErr != nil {
		return 0, s.getWatermarkErr
	}
	return s.watermarks[channel], nil
}

// SetNotificationWatermark stores the watermark, never moving it backwards
func (s *MockState) SetNotificationWatermark(channel string, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setWatermarkErr != nil {
		return s.setWatermarkErr
	}
	if timestamp > s.watermarks[channel] {
		s.watermarks[channel] = timestamp
	}
	return nil
}

// GetStateDir returns the mock state directory
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close is a no-op for the mock
func (s *MockState) Close() error {
	return nil
}

// Test helper methods

// SetGetConfigError sets an error to return from GetConfig
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError sets an error to return from SetConfig
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetGetWatermarkError sets an error to return from GetNotificationWatermark
func (s *MockState) SetGetWatermarkError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getWatermarkErr = err
}

// SetSetWatermarkError sets an error to return from SetNotificationWatermark
func (s *MockState) SetSetWatermarkError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setWatermarkErr = err
}

var _ StateInterface = (*MockState)(nil)
