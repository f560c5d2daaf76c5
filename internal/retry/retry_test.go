package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTransportDefaults(t *testing.T) {
	config := TransportDefaults()
	if config.MaxAttempts != 5 {
		t.Errorf("Expected MaxAttempts=5, got %d", config.MaxAttempts)
	}
	if config.BaseDelay != 1*time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay=30s, got %v", config.MaxDelay)
	}
	if config.JitterPercent != 10 {
		t.Errorf("Expected JitterPercent=10, got %d", config.JitterPercent)
	}
}

func TestPostgreSQLDefaults(t *testing.T) {
	config := PostgreSQLDefaults()
	if config.MaxAttempts != 10 {
		t.Errorf("Expected MaxAttempts=10, got %d", config.MaxAttempts)
	}
	if config.BaseDelay != 100*time.Millisecond {
		t.Errorf("Expected BaseDelay=100ms, got %v", config.BaseDelay)
	}
}

func TestEtcdDefaults(t *testing.T) {
	config := EtcdDefaults()
	if config.MaxAttempts != 15 {
		t.Errorf("Expected MaxAttempts=15, got %d", config.MaxAttempts)
	}
	if config.MaxDelay != 1*time.Minute {
		t.Errorf("Expected MaxDelay=1m, got %v", config.MaxDelay)
	}
}

func TestWithOperation_Success(t *testing.T) {
	config := &Config{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		JitterPercent: 10,
	}

	callCount := 0
	operation := func() error {
		callCount++
		return nil
	}

	ctx := context.Background()
	err := WithOperation(ctx, config, operation, "test-operation")

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected operation to be called once, got %d", callCount)
	}
}

func TestWithOperation_ExceedsMaxAttempts(t *testing.T) {
	config := &Config{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		JitterPercent: 10,
	}

	callCount := 0
	operation := func() error {
		callCount++
		return errors.New("persistent failure")
	}

	ctx := context.Background()
	err := WithOperation(ctx, config, operation, "test-operation")

	if err == nil {
		t.Error("Expected an error, got nil")
	}
	// go-retry does MaxAttempts + 1 total attempts (initial + retries)
	if callCount != 4 {
		t.Errorf("Expected operation to be called 4 times (initial + 3 retries), got %d", callCount)
	}
}

func TestConstantBackoff(t *testing.T) {
	backoff := ConstantBackoff(5*time.Millisecond, 2)
	if backoff == nil {
		t.Fatal("Expected backoff to be created, got nil")
	}

	delay, stop := backoff.Next()
	if stop {
		t.Fatal("Expected first retry to be allowed")
	}
	if delay != 5*time.Millisecond {
		t.Errorf("Expected constant delay of 5ms, got %v", delay)
	}

	if _, stop = backoff.Next(); stop {
		t.Fatal("Expected second retry to be allowed")
	}
	if _, stop = backoff.Next(); !stop {
		t.Error("Expected backoff to stop after max retries")
	}
}

func TestCreateBackoff(t *testing.T) {
	config := &Config{
		MaxAttempts:   5,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		JitterPercent: 20,
	}

	backoff := config.CreateBackoff()
	if backoff == nil {
		t.Error("Expected backoff to be created, got nil")
	}
}
