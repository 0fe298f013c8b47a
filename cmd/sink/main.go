package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"sink"
	"sink/lib"
)

// parse applies args over conf. It also returns -conf, so main parses twice:
// once to find the file, once to override what the file set.
func parse(args []string, conf lib.Conf) (lib.Conf, string, error) {
	cmd := flag.NewFlagSet("sink", flag.ContinueOnError)
	cmd.StringVar(&conf.Addr, "addr", conf.Addr, "host:port to listen on")
	cmd.IntVar(&conf.Backlog, "backlog", conf.Backlog, "listen backlog")
	cmd.IntVar(&conf.Size, "size", conf.Size, "max bytes to read")
	cmd.DurationVar(&conf.Timeout, "timeout", conf.Timeout, "accept and read deadline, 0 blocks forever")
	cmd.StringVar(&conf.Decode, "decode", conf.Decode, "strict or replace")
	cmd.StringVar(&conf.Checksum, "checksum", conf.Checksum, "xxh, blake2s or none")
	cmd.StringVar(&conf.LogLevel, "log-level", conf.LogLevel, "log level")
	cmd.StringVar(&conf.Status, "status", conf.Status, "host:port for the http status endpoint")
	confPath := cmd.String("conf", "", "ini conf path instead of ~/.sink.conf")
	if err := cmd.Parse(args); err != nil {
		return conf, "", err
	}
	if cmd.NArg() != 0 {
		return conf, "", fmt.Errorf("unexpected args: %v", cmd.Args())
	}
	return conf, *confPath, nil
}

// run is main without os.Exit: 0 after one line is printed, 1 on a fault,
// 2 on bad usage.
func run(args []string, stdout, stderr io.Writer) int {
	_, confPath, err := parse(args, lib.DefaultConf())
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	conf, err := lib.LoadConf(confPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	conf, _, err = parse(args, conf)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	log := lib.Logger(stderr, conf.LogLevel)
	s := sink.New(sink.ConfigFrom(conf), stdout, log)
	if err := s.Listen(); err != nil {
		log.Error().Err(err).Msg("listen failed")
		return 1
	}

	var srv *http.Server
	var g errgroup.Group
	if conf.Status != "" {
		li, err := net.Listen("tcp", conf.Status)
		if err != nil {
			log.Error().Err(err).Msg("status listen failed")
			_ = s.Close()
			return 1
		}
		srv = &http.Server{Handler: sink.StatusHandler(s)}
		log.Info().Str("addr", li.Addr().String()).Msg("status endpoint")
		g.Go(func() error {
			err := srv.Serve(li)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			_ = s.Close()
			return err
		})
	}
	g.Go(func() error {
		_, err := s.Serve()
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("sink failed")
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
