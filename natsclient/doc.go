// Package natsclient wraps the NATS Go client for the schema reload signal.
//
// The client adds a circuit breaker around connection attempts: after a
// threshold of consecutive failures (default 5) the circuit opens and
// further attempts fail fast with ErrCircuitOpen until the backoff elapses.
// Each opening doubles the backoff up to a maximum.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// KVStore sits on top of a JetStream key/value bucket. It bounds each call
// with a timeout, maps missing keys and revision conflicts to ErrKVKeyNotFound
// and ErrKVRevisionMismatch, and exposes Watch for long-lived change
// subscriptions:
//
//	bucket, _ := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "memoriam_schema"})
//	kv := client.NewKVStore(bucket)
//	watcher, _ := kv.Watch(ctx, "generation", jetstream.UpdatesOnly())
package natsclient
