// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/leveldb"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/utils/logging"

	"github.com/svm-labs/svm/runtime"
)

func main() {
	config, err := getConfig()
	if err != nil {
		fmt.Printf("couldn't get config: %s\n", err)
		os.Exit(1)
	}
	if config.PrintVersion {
		fmt.Printf("%s@%s\n", runtime.Name, runtime.Version)
		os.Exit(0)
	}

	var db database.Database
	if config.DataDir == "" {
		log.Warn("no data directory configured, state is in-memory only")
		db = memdb.New()
	} else {
		db, err = leveldb.New(config.DataDir, nil, logging.NoLog{}, "", prometheus.NewRegistry())
		if err != nil {
			log.Error("couldn't open database", "dir", config.DataDir, "error", err)
			os.Exit(1)
		}
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	rt, err := runtime.New(ctx, db, runtime.Config{MemoryLimitPages: config.MemoryLimitPages})
	if err != nil {
		log.Error("couldn't initialize runtime", "error", err)
		os.Exit(1)
	}
	defer func() { _ = rt.Close(ctx) }()

	handler, err := rt.CreateHandler()
	if err != nil {
		log.Error("couldn't create API handler", "error", err)
		os.Exit(1)
	}
	staticHandler, err := runtime.CreateStaticHandler()
	if err != nil {
		log.Error("couldn't create static API handler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/ext/svm", handler)
	mux.Handle("/ext/svm/static", staticHandler)

	log.Info("serving JSON-RPC API", "port", config.Port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", config.Port), mux); err != nil {
		log.Error("server returned an error", "error", err)
		os.Exit(1)
	}
}
