// Package mongo manages the MongoDB connection used by the document-store queue backend.
//
// Configuration is environment driven (see Config). New retries the initial
// connection and ping, which smooths over a database that starts slower than
// the workers, and Healthcheck exposes a ping check for readiness endpoints.
//
// # Usage
//
//	cfg := mongo.Config{
//		ConnectionURL: "mongodb://localhost:27017",
//		Database:      "jobqueue",
//	}
//
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Client().Disconnect(context.Background())
//
//	backend, err := queue.NewMongoBackend(db, "emails")
//
// # Error Handling
//
// Connection failures are joined with ErrFailedToConnectToMongo and check
// failures with ErrHealthcheckFailed; match them with errors.Is.
package mongo
