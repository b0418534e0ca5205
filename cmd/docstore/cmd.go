package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qbloq/docstore/serv"
	"github.com/qbloq/docstore/internal/util"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
)

var (
	log   *zap.SugaredLogger
	conf  *serv.Config
	cpath string
)

// Cmd is the entry point for the CLI
func Cmd() {
	log = util.NewLogger(false, zapcore.DebugLevel).Sugar()

	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "docstore",
		Short: BuildDetails(),
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"config", "./conf/dev.yml", "path to the config file")

	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

// setup is a helper function to read the config file
func setup(cpath string) {
	if conf != nil {
		return
	}
	c, err := serv.ReadInConfig(cpath)
	if err != nil {
		log.Fatalf("%s", err)
	}
	conf = c
	log = serv.NewLogger(conf)
}

// initDB connects to the configured database
func initDB(ctx context.Context) *serv.DB {
	db, err := serv.Connect(ctx, conf, log)
	if err != nil {
		log.Fatalf("%s", err)
	}
	return db
}

// BuildDetails returns the version and commit details
func BuildDetails() string {
	if version == "" {
		return "docstore (unknown version)"
	}
	return fmt.Sprintf("docstore %s (%s)", version, commit)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(BuildDetails())
		},
	}
}
