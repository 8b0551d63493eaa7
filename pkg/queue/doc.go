// Package queue is a durable job queue with retries and delayed execution.
//
// Producers enqueue a job under a task name with a JSON object payload; any
// number of worker processes claim eligible jobs, run the registered handler
// and report the outcome. A failed attempt is rescheduled after 2^retries
// seconds until the job's retry budget is spent, after which the job stays
// failed until an operator revives it with RetryJob.
//
// # Job lifecycle
//
//	pending ──Dequeue──▶ processing ──CompleteJob──▶ completed
//	   ▲                     │
//	   │                     └──FailJob──▶ delayed (retries left) ──due──▶ claimable
//	   │                              └──▶ failed (budget spent)
//	   └────────────RetryJob──────────────────┘
//
// # Backends
//
// Backend is the operation contract. Three implementations are provided:
//
//   - RedisBackend keeps ids in per-status lists and sorted sets and job bodies
//     in a hash. Due delayed jobs are promoted and claimed in one server-side
//     script unless WithAtomicPromotion(false) is given.
//   - MongoBackend stores one document per job and claims with a single
//     find-and-modify.
//   - MemoryBackend is a mutex-guarded map for tests and local runs.
//
// Open selects one from Config.Driver and opens the connection through the
// redis and mongo packages of this module.
//
// # Usage
//
//	backend, closeFn, err := queue.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer closeFn(context.Background())
//
//	enqueuer, _ := queue.NewEnqueuer(backend)
//	id, err := enqueuer.Enqueue(ctx, SendEmail{To: "a@b.c"}, queue.WithDelay(time.Minute))
//
//	worker, _ := queue.NewWorker(backend, queue.WithMaxConcurrentTasks(4))
//	_ = worker.RegisterHandler(queue.NewTaskHandler(func(ctx context.Context, p SendEmail) error {
//		return mailer.Send(ctx, p.To)
//	}))
//
//	janitor, _ := queue.NewJanitor(backend.(queue.Pruner), queue.WithRetention(72*time.Hour))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(worker.Run(ctx))
//	g.Go(janitor.Run(ctx))
//	return g.Wait()
//
// # Delivery guarantees
//
// Claims are exclusive in every backend except Redis with non-atomic
// promotion, where two workers racing on the same due delayed job may both
// receive it. The Redis backend revives failed jobs with a server-side script,
// and drops any claimed list entry whose job is not waiting to run, so a
// job never sits in the pending list twice. There is no lease: a worker that
// dies after claiming leaves its job in processing.
//
// # Error Handling
//
// Errors are sentinels checked with errors.Is. ErrStorage marks store
// failures, which are returned as-is and never retried inside a backend.
// ErrJobNotFound, ErrInvalidState and ErrNoJobToClaim describe the job
// rather than the store.
package queue
