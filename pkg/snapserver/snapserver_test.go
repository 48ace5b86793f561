package snapserver

import (
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/function61/gokit/assert"

	"github.com/function61/snapshotd/pkg/logtee"
	"github.com/function61/snapshotd/pkg/snapstore"
)

func openTestDB(t *testing.T) *bbolt.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	db, err := snapstore.Open(path)
	assert.Ok(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Ok(t, snapstore.Bootstrap(db))

	return db
}

// seedHello writes the S1-S3 fixture from spec §8: archive "debian", suite
// "bullseye", component "main", a single binary "hello 2.10-2 all" observed
// continuously from 20210221T150011Z through 20210222T150011Z.
func seedHello(t *testing.T, db *bbolt.DB) {
	t.Helper()

	loc := snapstore.Location{Archive: "debian", Suite: "bullseye", Component: "main", Path: "pool/main/h/hello", Name: "hello_2.10-2_all.deb"}
	locID := snapstore.LocationID(loc)

	err := db.Update(func(tx *bbolt.Tx) error {
		for _, ts := range []string{"20210221T150011Z", "20210222T150011Z", "20210223T150011Z"} {
			if err := snapstore.TimestampRepository.Update(&snapstore.Timestamp{Archive: "debian", Value: ts}, tx); err != nil {
				return err
			}
		}

		if err := snapstore.FileRepository.Update(&snapstore.File{Sha256Hex: "aaa", Size: 12345}, tx); err != nil {
			return err
		}
		if err := snapstore.LocationRepository.Update(&loc, tx); err != nil {
			return err
		}
		if err := snapstore.PackageRepository.Update(&snapstore.Package{Kind: snapstore.PackageKindBinary, Name: "hello", Version: "2.10-2"}, tx); err != nil {
			return err
		}
		if err := snapstore.PackageFileRepository.Update(&snapstore.PackageFile{
			PackageKind: snapstore.PackageKindBinary, PackageName: "hello", PackageVersion: "2.10-2",
			FileSha256Hex: "aaa", ArchitectureIfBinary: "all",
		}, tx); err != nil {
			return err
		}

		for _, ts := range []string{"20210221T150011Z", "20210222T150011Z"} {
			if err := snapstore.RecordObservation("debian", snapstore.Observation{
				FileSha256Hex: "aaa", LocationID: locID, ArchitectureIfBinary: "all", Timestamp: ts,
			}, tx); err != nil {
				return err
			}
		}

		return nil
	})
	assert.Ok(t, err)
}

// TestClosestTimestamp is scenario S5.
func TestClosestTimestamp(t *testing.T) {
	db := openTestDB(t)
	seedHello(t, db)

	router := newRouter(db, t.TempDir(), newMetricsController(), logtee.NewStringTail(10))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mr/timestamp/debian/20210222T160000Z", nil))
	assert.Assert(t, rec.Code == http.StatusOK)
	assert.Assert(t, strings.Contains(rec.Body.String(), "20210222T150011Z"))

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/mr/timestamp/debian/20210220T000000Z", nil))
	assert.Assert(t, rec2.Code == http.StatusNotFound)
}

func TestFileInfo(t *testing.T) {
	db := openTestDB(t)
	seedHello(t, db)

	router := newRouter(db, t.TempDir(), newMetricsController(), logtee.NewStringTail(10))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mr/file/aaa/info", nil))
	assert.Assert(t, rec.Code == http.StatusOK)
	assert.Assert(t, strings.Contains(rec.Body.String(), "20210221T150011Z"))
	assert.Assert(t, strings.Contains(rec.Body.String(), "20210222T150011Z"))
}

func TestFileInfoUnknownSha256Is404(t *testing.T) {
	db := openTestDB(t)

	router := newRouter(db, t.TempDir(), newMetricsController(), logtee.NewStringTail(10))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mr/file/deadbeef/info", nil))
	assert.Assert(t, rec.Code == http.StatusNotFound)
}

func TestBinaryVersionsKnownNameIsOk(t *testing.T) {
	db := openTestDB(t)
	seedHello(t, db)

	router := newRouter(db, t.TempDir(), newMetricsController(), logtee.NewStringTail(10))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mr/binary/hello", nil))
	assert.Assert(t, rec.Code == http.StatusOK)
	assert.Assert(t, strings.Contains(rec.Body.String(), "2.10-2"))
}

func TestBinaryVersionsUnknownNameIs404(t *testing.T) {
	db := openTestDB(t)
	seedHello(t, db)

	router := newRouter(db, t.TempDir(), newMetricsController(), logtee.NewStringTail(10))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mr/binary/does-not-exist", nil))
	assert.Assert(t, rec.Code == http.StatusNotFound)
}

func TestPackageVersionsUnknownNameIs404(t *testing.T) {
	db := openTestDB(t)
	seedHello(t, db)

	router := newRouter(db, t.TempDir(), newMetricsController(), logtee.NewStringTail(10))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mr/package/does-not-exist", nil))
	assert.Assert(t, rec.Code == http.StatusNotFound)
}

// TestBuildinfoSolverMissing is scenario S6: requiring hello 2.10-2 amd64
// when only the arch "all" observation exists must report it under missing
// with no timestamps.
func TestBuildinfoSolverMissing(t *testing.T) {
	db := openTestDB(t)
	seedHello(t, db)

	router := newRouter(db, t.TempDir(), newMetricsController(), logtee.NewStringTail(10))

	body, contentType := buildinfoMultipartBody(t, "Source: hello\n"+
		"Architecture: amd64\n"+
		"Installed-Build-Depends:\n"+
		" hello (= 2.10-2) amd64\n")

	req := httptest.NewRequest(http.MethodPost, "/mr/buildinfo", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Assert(t, rec.Code == http.StatusOK)

	out := rec.Body.String()
	assert.Assert(t, strings.Contains(out, `"hello"`))
	assert.Assert(t, strings.Contains(out, `"missing"`))
}

func buildinfoMultipartBody(t *testing.T, buildinfo string) (*strings.Reader, string) {
	t.Helper()

	var buf strings.Builder
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("buildinfo", "hello.buildinfo")
	assert.Ok(t, err)
	_, err = part.Write([]byte(buildinfo))
	assert.Ok(t, err)
	assert.Ok(t, w.Close())

	return strings.NewReader(buf.String()), w.FormDataContentType()
}
