package snapserver

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"

	"github.com/gorilla/mux"
	"go.etcd.io/bbolt"

	"github.com/function61/snapshotd/pkg/blorm"
	"github.com/function61/snapshotd/pkg/logtee"
	"github.com/function61/snapshotd/pkg/snaplayout"
	"github.com/function61/snapshotd/pkg/snapstore"
)

// handlers implements every /mr/* endpoint named in spec §6, in the style
// of the teacher's stoserver "legacy" handlers: one method per route,
// opening its own read-only transaction and mapping blorm.ErrNotFound to
// HTTP 404 via writeError.
type handlers struct {
	db *bbolt.DB
}

func newHandlers(db *bbolt.DB) *handlers {
	return &handlers{db: db}
}

// fileInfoFor builds the {name, path, size, archive_name, suite_name,
// component_name, timestamp_ranges} aggregation spec §4.7's fileinfo=1
// expansion and GET /mr/file/{sha256}/info both need, the Go shape of
// original_source/api/snapshot_api.py's file_desc().
func fileInfoFor(tx *bbolt.Tx, sha256Hex string) (map[string]any, error) {
	q := snapstore.Read(tx)

	file, err := q.File(sha256Hex)
	if err != nil {
		return nil, err
	}

	locations, err := q.LocationsForFile(sha256Hex)
	if err != nil {
		return nil, err
	}

	entries := make([]map[string]any, 0, len(locations))
	for _, li := range locations {
		ranges := make([][2]string, 0, len(li.TimestampRanges))
		for _, r := range li.TimestampRanges {
			ranges = append(ranges, [2]string{r.Begin, r.End})
		}

		entries = append(entries, map[string]any{
			"name":             li.Location.Name,
			"path":             li.Location.Path,
			"size":             file.Size,
			"archive_name":     li.Location.Archive,
			"suite_name":       li.Location.Suite,
			"component_name":   li.Location.Component,
			"architecture":     li.ArchIfBinary,
			"timestamp_ranges": ranges,
		})
	}

	return map[string]any{"sha256": sha256Hex, "size": file.Size, "locations": entries}, nil
}

func (h *handlers) getPackage(w http.ResponseWriter, r *http.Request) {
	h.view(w, func(tx *bbolt.Tx) (any, error) {
		return snapstore.Read(tx).PackageNames(snapstore.PackageKindSource)
	})
}

func (h *handlers) getPackageVersions(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	h.view(w, func(tx *bbolt.Tx) (any, error) {
		versions, err := snapstore.Read(tx).PackageVersions(snapstore.PackageKindSource, name)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, blorm.ErrNotFound
		}
		return versions, nil
	})
}

func (h *handlers) getSourceFiles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, version := vars["name"], vars["version"]
	expandFileinfo := r.URL.Query().Get("fileinfo") == "1"

	h.view(w, func(tx *bbolt.Tx) (any, error) {
		files, err := snapstore.Read(tx).FilesForPackage(snapstore.PackageKindSource, name, version)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, blorm.ErrNotFound
		}
		return packageFilesResult(tx, files, expandFileinfo)
	})
}

func (h *handlers) getBinary(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	h.view(w, func(tx *bbolt.Tx) (any, error) {
		versions, err := snapstore.Read(tx).PackageVersions(snapstore.PackageKindBinary, name)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, blorm.ErrNotFound
		}
		return versions, nil
	})
}

func (h *handlers) getBinaryFiles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, version := vars["name"], vars["version"]
	expandFileinfo := r.URL.Query().Get("fileinfo") == "1"

	h.view(w, func(tx *bbolt.Tx) (any, error) {
		files, err := snapstore.Read(tx).FilesForPackage(snapstore.PackageKindBinary, name, version)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, blorm.ErrNotFound
		}
		return packageFilesResult(tx, files, expandFileinfo)
	})
}

// packageFilesResult renders the sha256 (+ architecture) list spec §6's
// srcfiles/binfiles endpoints return, optionally expanded per-sha256 via
// fileInfoFor when fileinfo=1.
func packageFilesResult(tx *bbolt.Tx, files []snapstore.PackageFile, expandFileinfo bool) (any, error) {
	type fileEntry struct {
		Sha256       string `json:"sha256"`
		Architecture string `json:"architecture,omitempty"`
	}

	out := make([]fileEntry, 0, len(files))
	for _, f := range files {
		out = append(out, fileEntry{Sha256: f.FileSha256Hex, Architecture: f.ArchitectureIfBinary})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Sha256 < out[j].Sha256 })

	if !expandFileinfo {
		return map[string]any{"files": out}, nil
	}

	fileinfo := map[string]any{}
	for _, f := range out {
		info, err := fileInfoFor(tx, f.Sha256)
		if err != nil {
			return nil, err
		}
		fileinfo[f.Sha256] = info
	}

	return map[string]any{"files": out, "fileinfo": fileinfo}, nil
}

func (h *handlers) getAllFiles(w http.ResponseWriter, r *http.Request) {
	h.view(w, func(tx *bbolt.Tx) (any, error) {
		shas, err := snapstore.Read(tx).AllFileSha256()
		if err != nil {
			return nil, err
		}
		return map[string]any{"files": shas}, nil
	})
}

func (h *handlers) getFileInfo(w http.ResponseWriter, r *http.Request) {
	sha256Hex := mux.Vars(r)["sha256"]

	h.view(w, func(tx *bbolt.Tx) (any, error) {
		if _, err := snapstore.Read(tx).File(sha256Hex); err != nil {
			return nil, err
		}
		return fileInfoFor(tx, sha256Hex)
	})
}

// getFileDownload redirects to the by-hash physical location of the
// requested sha256, served statically under /by-hash/ (see router.go), per
// spec §6 ("HTTP 302 to the on-disk location").
func (h *handlers) getFileDownload(w http.ResponseWriter, r *http.Request) {
	sha256Hex := mux.Vars(r)["sha256"]

	urlPath, err := func() (string, error) {
		tx, err := h.db.Begin(false)
		if err != nil {
			return "", err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := snapstore.Read(tx).File(sha256Hex); err != nil {
			return "", err
		}

		return snaplayout.PhysicalPoolPath("", sha256Hex)
	}()
	if err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, (&url.URL{Path: "/" + urlPath}).String(), http.StatusFound)
}

func (h *handlers) getTimestampsForArchive(w http.ResponseWriter, r *http.Request) {
	archive := mux.Vars(r)["archive"]

	h.view(w, func(tx *bbolt.Tx) (any, error) {
		timestamps, err := snapstore.Read(tx).TimestampsForArchive(archive)
		if err != nil {
			return nil, err
		}
		if len(timestamps) == 0 {
			return nil, blorm.ErrNotFound
		}

		values := make([]string, len(timestamps))
		for i, ts := range timestamps {
			values[i] = ts.Value
		}

		return map[string]any{"timestamps": values}, nil
	})
}

// getClosestTimestamp implements spec §4.7's "closest timestamp"
// resolution: exact match if ingested, else the greatest ingested
// timestamp strictly less than the query; "latest" resolves to the
// archive's maximum ingested timestamp.
func (h *handlers) getClosestTimestamp(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	archive, value := vars["archive"], vars["value"]

	h.view(w, func(tx *bbolt.Tx) (any, error) {
		q := snapstore.Read(tx)

		all, err := q.TimestampsForArchive(archive)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, blorm.ErrNotFound
		}

		if value == "latest" {
			return all[len(all)-1].Value, nil
		}

		resolved := ""
		for _, ts := range all {
			if ts.Value > value {
				break
			}
			resolved = ts.Value
		}

		if resolved == "" {
			return nil, blorm.ErrNotFound
		}

		return resolved, nil
	})
}

// postBuildinfo implements the buildinfo solver endpoint (spec §4.8).
func (h *handlers) postBuildinfo(w http.ResponseWriter, r *http.Request) {
	suiteFilter := r.URL.Query().Get("suite_name")

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("buildinfo")
	if err != nil {
		http.Error(w, fmt.Sprintf("missing buildinfo form field: %v", err), http.StatusBadRequest)
		return
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	bi, err := parseBuildinfoFromMultipart(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	required := requiredPackagesFromBuildinfo(bi)

	h.view(w, func(tx *bbolt.Tx) (any, error) {
		results, err := solveBuildinfo(tx, suiteFilter, required)
		if err != nil {
			return nil, err
		}
		return map[string]any{"locations": results}, nil
	})
}

// view runs fn inside a read-only transaction and writes its result via the
// envelope, or maps its error to the appropriate status code.
func (h *handlers) view(w http.ResponseWriter, fn func(tx *bbolt.Tx) (any, error)) {
	tx, err := h.db.Begin(false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	result, err := fn(tx)
	if err != nil {
		writeError(w, err)
		return
	}

	outJson(w, result)
}

// debugLogHandler serves the process's recent log lines, mirroring the
// teacher's pattern of feeding a logtee.StringTail from the root logger and
// exposing its Snapshot() for operator debugging.
func debugLogHandler(logTail *logtee.StringTail) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outJson(w, map[string]any{"lines": logTail.Snapshot()})
	}
}
