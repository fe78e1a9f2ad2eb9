//go:build integration

package mongo_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/ferry/id"
	mongostore "github.com/xraph/ferry/store/mongo"
	"github.com/xraph/ferry/store/storetest"
)

// startMongo runs a MongoDB container and returns its connection URI.
func startMongo(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor: wait.ForLog("Waiting for connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("get endpoint: %v", err)
	}
	return fmt.Sprintf("mongodb://%s", endpoint)
}

func TestStoreSuite(t *testing.T) {
	uri := startMongo(t)

	storetest.Run(t, func(t *testing.T) storetest.Store {
		ctx := context.Background()
		s, err := mongostore.NewFromURI(ctx, uri, "ferry_test",
			mongostore.WithCollectionPrefix("t_"+id.NewWorkerID().String()+"_"))
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })

		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}

func TestMigrateIdempotent(t *testing.T) {
	uri := startMongo(t)
	ctx := context.Background()

	s, err := mongostore.NewFromURI(ctx, uri, "ferry_test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	for i := range 2 {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
}
