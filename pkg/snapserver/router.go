package snapserver

import (
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"go.etcd.io/bbolt"

	"github.com/function61/snapshotd/pkg/logtee"
)

// newRouter wires every /mr/* route from spec §6 onto a gorilla/mux router,
// in the same one-route-per-line style as the teacher's
// stoserver/restapi.go defineLegacyRestApi.
func newRouter(db *bbolt.DB, root string, metrics *metricsController, logTail *logtee.StringTail) *mux.Router {
	router := mux.NewRouter()

	h := newHandlers(db)

	router.HandleFunc("/mr/package", h.getPackage).Methods(http.MethodGet)
	router.HandleFunc("/mr/package/{name}", h.getPackageVersions).Methods(http.MethodGet)
	router.HandleFunc("/mr/package/{name}/{version}/srcfiles", h.getSourceFiles).Methods(http.MethodGet)
	router.HandleFunc("/mr/binary/{name}", h.getBinary).Methods(http.MethodGet)
	router.HandleFunc("/mr/binary/{name}/{version}/binfiles", h.getBinaryFiles).Methods(http.MethodGet)
	router.HandleFunc("/mr/file", h.getAllFiles).Methods(http.MethodGet)
	router.HandleFunc("/mr/file/{sha256}/info", h.getFileInfo).Methods(http.MethodGet)
	router.HandleFunc("/mr/file/{sha256}/download", h.getFileDownload).Methods(http.MethodGet)
	router.HandleFunc("/mr/timestamp/{archive}", h.getTimestampsForArchive).Methods(http.MethodGet)
	router.HandleFunc("/mr/timestamp/{archive}/{value}", h.getClosestTimestamp).Methods(http.MethodGet)
	router.HandleFunc("/mr/buildinfo", h.postBuildinfo).Methods(http.MethodPost)

	router.HandleFunc("/mr/debug/log", debugLogHandler(logTail)).Methods(http.MethodGet)

	router.PathPrefix("/by-hash/").Handler(http.StripPrefix("/by-hash/", http.FileServer(http.Dir(filepath.Join(root, "by-hash")))))

	router.Handle("/metrics", metrics.MetricsHTTPHandler()).Methods(http.MethodGet)

	return router
}
