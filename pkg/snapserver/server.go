package snapserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/stopper"

	"github.com/function61/snapshotd/pkg/logtee"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// Config is the query server's process configuration, read from CLI flags
// or SNAPSHOT_DB_URL/SNAPSHOT_ROOT env vars by Entrypoint.
type Config struct {
	Addr   string
	DBPath string
	Root   string
}

// Run opens the store and serves the HTTP API until stop fires, mirroring
// the teacher's bupserver.runServer lifecycle: open storage, build the
// router, serve, block on the stop signal, shut down gracefully.
func Run(conf Config, logger *log.Logger, logTail *logtee.StringTail, stop *stopper.Stopper) error {
	defer stop.Done()

	logl := logex.Levels(logger)

	db, err := snapstore.Open(conf.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := snapstore.EnsureBootstrapped(db); err != nil {
		return err
	}

	metrics := newMetricsController()

	router := newRouter(db, conf.Root, metrics, logTail)

	srv := &http.Server{
		Addr:    conf.Addr,
		Handler: metrics.WrapHTTPServer(router),
	}

	go func() {
		logl.Info.Printf("listening on %s", conf.Addr)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logl.Error.Printf("ListenAndServe: %v", err)
		}
	}()

	<-stop.Signal

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
