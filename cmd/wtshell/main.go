// Command wtshell is a thin cobra-based CLI driver over the engine,
// replacing the teacher's interactive REPL (filodb_engine.go's
// StartDB loop) with one-shot subcommands suited to scripting.
//
// Grounded on cuemby-warren/cmd/warren/main.go's root-command,
// persistent-flags, and cobra.OnInitialize(initLogging) pattern.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wtstore/wtstore/internal/config"
	"github.com/wtstore/wtstore/internal/cursor"
	"github.com/wtstore/wtstore/internal/wtlog"
	wt "github.com/wtstore/wtstore"
)

// commitTimestamp stands in for the explicit application-supplied
// commit_ts spec.md's transaction model expects; a one-shot CLI command
// has no caller-tracked timestamp of its own to reuse, so it derives one
// from wall-clock time the way ad-hoc writes through a shell naturally
// would.
func commitTimestamp() uint64 {
	return uint64(time.Now().UnixNano())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wtshell",
	Short: "wtshell drives a wtstore engine from the command line",
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "./wtstore-data", "Engine data directory")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a JSONC config file overlaying defaults")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve /metrics on (disabled if empty)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	wtlog.Init(wtlog.Config{Level: wtlog.Level(level)})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func openConn(cmd *cobra.Command) (*wt.Connection, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	return wt.Open(dataDir, config.WithBase(cfg))
}

var openCmd = &cobra.Command{
	Use:   "open TABLE",
	Short: "Create a table if it does not already exist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := openConn(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := conn.CreateTable(args[0]); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		fmt.Printf("table %q ready\n", args[0])
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put TABLE KEY VALUE",
	Short: "Insert or update a key",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, key, value := args[0], args[1], args[2]

		conn, err := openConn(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := conn.CreateTable(table); err != nil && !errors.Is(err, wt.ErrDuplicateKey) {
			return fmt.Errorf("open table: %w", err)
		}

		sess := conn.OpenSession()
		if err := sess.Begin(); err != nil {
			return err
		}
		cur, err := sess.OpenCursor(table)
		if err != nil {
			sess.Rollback()
			return err
		}

		if _, err := cur.Search([]byte(key)); err == nil {
			if err := cur.Update([]byte(value)); err != nil {
				sess.Rollback()
				return fmt.Errorf("update: %w", err)
			}
		} else if err := cur.Insert([]byte(key), []byte(value)); err != nil {
			sess.Rollback()
			return fmt.Errorf("insert: %w", err)
		}

		if err := sess.Commit(commitTimestamp()); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		fmt.Printf("%s => %s\n", key, value)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get TABLE KEY",
	Short: "Read a key's current value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, key := args[0], args[1]

		conn, err := openConn(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		sess := conn.OpenSession()
		if err := sess.Begin(); err != nil {
			return err
		}
		defer sess.Rollback()
		cur, err := sess.OpenCursor(table)
		if err != nil {
			return err
		}
		if _, err := cur.Search([]byte(key)); err != nil {
			return fmt.Errorf("get: %w", wt.ErrNotFound)
		}
		fmt.Println(string(cur.Value()))
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan TABLE",
	Short: "Print every visible key/value pair in ascending order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]

		conn, err := openConn(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		sess := conn.OpenSession()
		if err := sess.Begin(); err != nil {
			return err
		}
		defer sess.Rollback()
		cur, err := sess.OpenCursor(table)
		if err != nil {
			return err
		}

		_, err = cur.SearchNear([]byte{})
		for err == nil && cur.State() == cursor.Positioned {
			fmt.Printf("%s => %s\n", cur.Key(), cur.Value())
			err = cur.Next()
		}
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Run the checkpoint protocol over every open table",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := openConn(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		results, err := conn.Checkpoint()
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		for _, r := range results {
			fmt.Printf("%s: checkpoint %d, stable_ts %d\n", r.Name, r.CheckpointID, r.StableTS)
		}
		return nil
	},
}
