// Package sqlite provides a SQLite-backed output cache for the task graph.
//
// SQLite fits single-host deployments that want cached outputs to survive
// the process without running a database server.
//
//	store, err := sqlite.NewSqliteOutputCache(sqlite.SqliteOptions{
//		Path: "outputs.db",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	runner := graph.NewRunner(g)
//	runner.SetCache(store)
//
// Outputs are stored as JSON rows keyed by (task_type, cache_key); the
// schema is created when NewSqliteOutputCache opens the database.
package sqlite
