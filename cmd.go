// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package seqtidy

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"load":       &loadcmd{},
		"dedup":      &dedupcmd{},
		"filter":     &filtercmd{},
		"export":     &exportcmd{},
		"stats":      &statscmd{},
		"duplicates": &duplicatescmd{},
	})
)

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		log.StandardLogger().Formatter = &log.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// workspaceFlags are the settings shared by all subcommands.
type workspaceFlags struct {
	Dir      string
	LogLevel string
	Pprof    string
}

func (wf *workspaceFlags) Flags(flags *flag.FlagSet) {
	flags.StringVar(&wf.Dir, "workdir", ".", "`directory` holding "+RawStoreFile+", "+CleanStoreFile+", and "+DuplicatesStoreFile)
	flags.StringVar(&wf.LogLevel, "loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	flags.StringVar(&wf.Pprof, "pprof", "", "serve Go profile data at http://`[addr]:port`")
}

// Setup applies the log level and starts the profiling server, if
// requested.
func (wf *workspaceFlags) Setup() error {
	lvl, err := log.ParseLevel(wf.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	if wf.Pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(wf.Pprof, nil))
		}()
	}
	return os.MkdirAll(wf.Dir, 0777)
}

func (wf *workspaceFlags) Workspace() Workspace {
	return Workspace{Dir: wf.Dir}
}

// interruptContext returns a context that is cancelled by SIGINT or
// SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
