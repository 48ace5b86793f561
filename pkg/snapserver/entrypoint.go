package snapserver

import (
	"fmt"
	"log"
	"os"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/ossignal"
	"github.com/function61/gokit/stopper"
	"github.com/function61/gokit/systemdinstaller"
	"github.com/spf13/cobra"

	"github.com/function61/snapshotd/pkg/logtee"
)

// Entrypoint builds the "server" subcommand, modeled directly on the
// teacher's stoserver.Entrypoint: a logtee-backed StringTail feeds
// /mr/debug/log, and a stopper.Manager plus ossignal.InterruptOrTerminate
// goroutine give graceful shutdown.
func Entrypoint() *cobra.Command {
	conf := Config{}

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Starts the read-only query server",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if conf.DBPath == "" {
				conf.DBPath = os.Getenv("SNAPSHOT_DB_URL")
			}
			if conf.Root == "" {
				conf.Root = os.Getenv("SNAPSHOT_ROOT")
			}

			logTail := logtee.NewStringTail(200)

			// writes to upstream all end up in the sink, but logTail.Snapshot()
			// only returns the last "capacity" lines
			rootLogger := logex.StandardLoggerTo(logtee.NewLineSplitterTee(os.Stderr, func(line string) {
				logTail.Write(line)
			}))

			workers := stopper.NewManager()
			go func() {
				logex.Levels(rootLogger).Info.Printf(
					"got %s; stopping", <-ossignal.InterruptOrTerminate())
				workers.StopAllWorkersAndWait()
			}()

			if err := Run(conf, rootLogger, logTail, workers.Stopper()); err != nil {
				log.Fatal(err)
			}
		},
	}

	cmd.Flags().StringVar(&conf.Addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&conf.DBPath, "db", "", "path to the bbolt database (or SNAPSHOT_DB_URL)")
	cmd.Flags().StringVar(&conf.Root, "root", "", "path to the archive root directory (or SNAPSHOT_ROOT)")

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Installs systemd unit file to make the server start on system boot",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			serviceFile := systemdinstaller.SystemdServiceFile(
				"snapshotd",
				"Debian snapshot query server",
				systemdinstaller.Args("server"),
				systemdinstaller.Docs("https://snapshot.debian.org/"),
				systemdinstaller.RequireNetworkOnline)

			if err := systemdinstaller.Install(serviceFile); err != nil {
				log.Fatal(err)
			} else {
				fmt.Println(systemdinstaller.GetHints(serviceFile))
			}
		},
	})

	return cmd
}
