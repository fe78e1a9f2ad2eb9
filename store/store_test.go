package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/store"
	"github.com/xraph/ferry/store/memory"
)

func TestOpen_Memory(t *testing.T) {
	for _, driver := range []string{"", ferry.DriverMemory} {
		cfg := ferry.DefaultConfig()
		cfg.StoreDriver = driver

		s, err := store.Open(context.Background(), cfg, nil)
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if _, ok := s.(*memory.Store); !ok {
			t.Fatalf("Open(%q) = %T, want *memory.Store", driver, s)
		}
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := ferry.DefaultConfig()
	cfg.StoreDriver = "cassandra"

	_, err := store.Open(context.Background(), cfg, nil)
	if !errors.Is(err, ferry.ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestOpen_UnreachableRedis(t *testing.T) {
	cfg := ferry.DefaultConfig()
	cfg.StoreDriver = ferry.DriverRedis
	cfg.StoreURL = "not a url"

	_, err := store.Open(context.Background(), cfg, nil)
	if !errors.Is(err, ferry.ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}
}
