// Command gotorrent is the thin driver around the session package: it
// parses flags, loads a .torrent file, and renders progress to the
// terminal. Grounded on lvbealr-BitTorrent/main.go's argument handling
// shape, with its inline progress printing replaced by
// github.com/schollz/progressbar/v3, github.com/mitchellh/colorstring, and
// golang.org/x/term — all teacher dependencies the original main.go never
// actually exercised.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"gotorrent/internal/config"
	internalerrors "gotorrent/internal/errors"
	"gotorrent/internal/logging"
	"gotorrent/session"
)

const (
	exitSuccess       = 0
	exitMetainfoError = 2
	exitTrackerError  = 3
	exitIOError       = 4
	exitInterrupted   = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	defaults := config.Defaults()
	opts := defaults

	configPath := flag.String("config", "", "optional YAML options file")
	flag.IntVar(&opts.Port, "port", opts.Port, "listening port advertised to the tracker")
	flag.IntVar(&opts.MaxPeers, "max-peers", opts.MaxPeers, "maximum concurrent peer connections")
	flag.IntVar(&opts.PipelineDepth, "pipeline-depth", opts.PipelineDepth, "outstanding block requests per peer")
	flag.IntVar(&opts.IdleTimeoutS, "idle-timeout-s", opts.IdleTimeoutS, "seconds of silence before a peer is dropped")
	flag.IntVar(&opts.BlockTimeoutS, "block-timeout-s", opts.BlockTimeoutS, "seconds to wait for a requested block")
	flag.StringVar(&opts.PeerIDPrefix, "peer-id-prefix", opts.PeerIDPrefix, "prefix of the local peer-id")
	logFile := flag.String("logfile", "", "redirect logging to this file instead of stderr")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() < 2 {
		fmt.Fprintf(os.Stderr, "usage: gotorrent [flags] <path-to-torrent-file> <destination-directory>\n")
		flag.PrintDefaults()
		return exitIOError
	}

	// Flags explicitly passed on the command line always win over the YAML
	// file; flag.Visit only visits flags the user actually set.
	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if *configPath != "" {
		fileOpts, err := config.LoadFile(*configPath, defaults)
		if err != nil {
			logging.Errorf("%v", err)
			return exitIOError
		}
		if !explicit["port"] {
			opts.Port = fileOpts.Port
		}
		if !explicit["max-peers"] {
			opts.MaxPeers = fileOpts.MaxPeers
		}
		if !explicit["pipeline-depth"] {
			opts.PipelineDepth = fileOpts.PipelineDepth
		}
		if !explicit["idle-timeout-s"] {
			opts.IdleTimeoutS = fileOpts.IdleTimeoutS
		}
		if !explicit["block-timeout-s"] {
			opts.BlockTimeoutS = fileOpts.BlockTimeoutS
		}
		if !explicit["peer-id-prefix"] {
			opts.PeerIDPrefix = fileOpts.PeerIDPrefix
		}
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gotorrent: opening log file: %v\n", err)
			return exitIOError
		}
		defer f.Close()
		logging.SetOutput(f)
	}
	logging.SetDebugEnabled(*debug)

	torrentPath := flag.Arg(0)
	destDir := flag.Arg(1)

	metainfoBytes, err := os.ReadFile(torrentPath)
	if err != nil {
		logging.Errorf("reading %s: %v", torrentPath, err)
		return exitIOError
	}

	sess, err := session.Open(metainfoBytes, destDir, opts)
	if err != nil {
		logging.Errorf("%v", err)
		return exitCodeFor(err, exitMetainfoError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bar := newProgressBar()
	done := make(chan struct{})
	go renderProgress(sess, bar, done)

	err = sess.RunUntilComplete(ctx)
	close(done)

	if err != nil {
		verified, total, _, _ := sess.Progress()
		if verified == total && total > 0 {
			colorstring.Println("[green]download complete[reset]")
			return exitSuccess
		}
		code := exitCodeFor(err, exitTrackerError)
		if code == exitInterrupted {
			colorstring.Println("[yellow]interrupted")
		} else {
			colorstring.Println(fmt.Sprintf("[red]fatal: %v", err))
		}
		return code
	}

	colorstring.Println("[green]download complete[reset]")
	return exitSuccess
}

func exitCodeFor(err error, fallback int) int {
	typed, ok := err.(*internalerrors.Error)
	if !ok {
		return fallback
	}
	switch typed.Kind() {
	case "MetainfoInvalid":
		return exitMetainfoError
	case "Interrupted":
		return exitInterrupted
	case "TrackerFailure", "TrackerNetwork":
		return exitTrackerError
	case "StorageIO":
		return exitIOError
	default:
		return fallback
	}
}

func newProgressBar() *progressbar.ProgressBar {
	width := 40
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		width = w - 20
	}
	return progressbar.NewOptions(100,
		progressbar.OptionSetWidth(width),
		progressbar.OptionSetDescription("verifying pieces"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)
}

func renderProgress(sess *session.Session, bar *progressbar.ProgressBar, done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			verified, total, _, _ := sess.Progress()
			if total == 0 {
				continue
			}
			pct := int(float64(verified) / float64(total) * 100)
			bar.Set(pct)
		}
	}
}
