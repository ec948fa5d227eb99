package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/natsclient"
)

// startContainer runs req, terminates it when t ends and returns
// scheme://host:port for the mapped port.
func startContainer(t testing.TB, req testcontainers.ContainerRequest, port, scheme string) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("mapped port %s: %v", port, err)
	}
	return fmt.Sprintf("%s://%s:%s", scheme, host, mapped.Port())
}

// ArangoContainer is a single ArangoDB server without authentication.
type ArangoContainer struct {
	Client *arango.Client
	URL    string
}

// NewArangoContainer starts ArangoDB (3.11 unless version is set) and
// connects a client selecting the memoriam_test database. Bootstrap creates
// the database.
func NewArangoContainer(t testing.TB, version string) *ArangoContainer {
	t.Helper()
	if version == "" {
		version = "3.11"
	}

	url := startContainer(t, testcontainers.ContainerRequest{
		Image:        "arangodb:" + version,
		ExposedPorts: []string{"8529/tcp"},
		Env:          map[string]string{"ARANGO_NO_AUTH": "1"},
		WaitingFor:   wait.ForHTTP("/_api/version").WithPort("8529/tcp").WithStartupTimeout(90 * time.Second),
	}, "8529", "http")

	client, err := arango.NewClient([]string{url}, arango.WithDatabase("memoriam_test"))
	if err != nil {
		t.Fatalf("store client: %v", err)
	}
	if err := client.Connect(context.Background(), 30, time.Second); err != nil {
		t.Fatalf("reach ArangoDB: %v", err)
	}
	return &ArangoContainer{Client: client, URL: url}
}

// NATSContainer is a JetStream-enabled NATS server.
type NATSContainer struct {
	Client *natsclient.Client
	URL    string
}

// NewNATSContainer starts NATS with JetStream, connects a client and
// creates the named KV buckets.
func NewNATSContainer(t testing.TB, buckets ...string) *NATSContainer {
	t.Helper()

	url := startContainer(t, testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222", "--js"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
		),
	}, "4222", "nats")

	client, err := natsclient.NewClient(url, natsclient.WithTimeout(5*time.Second), natsclient.WithMaxReconnects(0))
	if err != nil {
		t.Fatalf("nats client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	for _, name := range buckets {
		if _, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name}); err != nil {
			t.Fatalf("create KV bucket %s: %v", name, err)
		}
	}
	return &NATSContainer{Client: client, URL: url}
}
