package snapingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/function61/gokit/assert"

	"github.com/function61/snapshotd/pkg/snapfetch"
	"github.com/function61/snapshotd/pkg/snapstore"
)

func TestInstallerJobsForComponentArchParsesManifest(t *testing.T) {
	manifest := "aaaa000000000000000000000000000000000000000000000000000000000000  ./netboot/vmlinuz\n" +
		"bbbb111111111111111111111111111111111111111111111111111111111111  ./netboot/initrd.gz\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(manifest))
	}))
	defer srv.Close()

	fetcher := snapfetch.New(snapfetch.DefaultConfig(), srv.Client())
	plan := &releasePlan{Suite: "bullseye"}

	jobs, err := installerJobsForComponentArch(context.Background(), fetcher, srv.URL, "debian", "20240101T000000Z", plan, "main", "amd64")
	assert.Ok(t, err)
	assert.Assert(t, len(jobs) == 2)

	assert.EqualString(t, jobs[0].sha256Hex, "aaaa000000000000000000000000000000000000000000000000000000000000")
	assert.EqualString(t, jobs[0].repoPath, "main/installer-amd64/current/images/netboot/vmlinuz")
	assert.Assert(t, jobs[0].kind == snapstore.PackageKindInstaller)
	assert.EqualString(t, jobs[0].packageName, "installer-amd64")
	assert.EqualString(t, jobs[0].packageVersion, "bullseye")
	assert.Assert(t, jobs[0].size == 0)

	assert.EqualString(t, jobs[1].repoPath, "main/installer-amd64/current/images/netboot/initrd.gz")
}

func TestInstallerJobsForComponentArchSkipsSourceAndAll(t *testing.T) {
	fetcher := snapfetch.New(snapfetch.DefaultConfig(), nil)
	plan := &releasePlan{Suite: "bullseye"}

	sourceJobs, err := installerJobsForComponentArch(context.Background(), fetcher, "http://unused", "debian", "20240101T000000Z", plan, "main", snapstore.ArchSource)
	assert.Ok(t, err)
	assert.Assert(t, len(sourceJobs) == 0)

	allJobs, err := installerJobsForComponentArch(context.Background(), fetcher, "http://unused", "debian", "20240101T000000Z", plan, "main", snapstore.ArchAll)
	assert.Ok(t, err)
	assert.Assert(t, len(allJobs) == 0)
}

func TestInstallerJobsForComponentArchToleratesMissingManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := snapfetch.New(snapfetch.DefaultConfig(), srv.Client())
	plan := &releasePlan{Suite: "bullseye"}

	jobs, err := installerJobsForComponentArch(context.Background(), fetcher, srv.URL, "debian", "20240101T000000Z", plan, "main", "amd64")
	assert.Ok(t, err)
	assert.Assert(t, len(jobs) == 0)
}
