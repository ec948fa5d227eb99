// Package worker provides a generic worker pool for concurrent task processing.
//
// Pool[T] runs a fixed number of goroutines over a bounded queue. Submit
// never blocks and returns ErrQueueFull under backpressure; SubmitWait
// polls for room until its context is done. Processor panics are recovered
// and reported as *PanicError to the error handler:
//
//	pool := worker.NewPool(4, 256, process,
//	    worker.WithErrorHandler(func(item Item, err error) {
//	        logger.Error("item failed", "item", item.ID, "error", err)
//	    }),
//	    worker.WithMetricsRegistry[Item](registry, "items"),
//	)
//	_ = pool.Start(ctx)
//	defer pool.Stop(10 * time.Second)
//
// Stop closes the queue and waits for queued items to drain. Items left when
// the start context is cancelled are abandoned.
package worker
