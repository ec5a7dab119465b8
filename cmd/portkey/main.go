// Command portkey is the reference client and dev relay for the portkey
// protocol: send or receive a text message or file through a one-time code,
// or run the rendezvous and transit relays locally.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/portkey-sh/portkey/internal/logging"
	"github.com/portkey-sh/portkey/internal/version"
	"github.com/portkey-sh/portkey/observability/prom"
	"github.com/portkey-sh/portkey/rendezvous/server"
	"github.com/portkey-sh/portkey/transfer"
	"github.com/portkey-sh/portkey/transit"
	"github.com/portkey-sh/portkey/transit/relay"
	"github.com/portkey-sh/portkey/wormhole"
	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

var (
	flagRendezvousURL string
	flagAppID         string
	flagVerbose       bool
	flagRelayHint     string
)

func newBackend() *logging.Backend {
	level := "WARNING"
	if flagVerbose {
		level = "DEBUG"
	}
	backend, err := logging.NewStderr(level)
	if err != nil {
		// Levels above are fixed strings; a parse failure is a programming
		// error.
		panic(err)
	}
	return backend
}

func sessionConfig(backend *logging.Backend) wormhole.Config {
	cfg := wormhole.DefaultConfig()
	cfg.RendezvousURL = flagRendezvousURL
	cfg.AppID = flagAppID
	cfg.Logging = backend
	return cfg
}

func transferConfig(backend *logging.Backend) transfer.Config {
	cfg := transfer.Config{
		Transit: transit.DefaultConfig(),
		Logging: backend,
		Progress: func(done, total int64) {
			fmt.Fprintf(os.Stderr, "\r%d / %d bytes", done, total)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		},
	}
	cfg.Transit.Logging = backend
	if flagRelayHint != "" {
		if hint, err := parseRelayHint(flagRelayHint); err == nil {
			cfg.Relays = append(cfg.Relays, hint)
		} else {
			fmt.Fprintf(os.Stderr, "ignoring relay hint %q: %v\n", flagRelayHint, err)
		}
	}
	return cfg
}

func parseRelayHint(addr string) (transit.RelayHint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return transit.RelayHint{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return transit.RelayHint{}, fmt.Errorf("bad port %q", portStr)
	}
	return transit.RelayHint{Hints: []transit.DirectHint{{Hostname: host, Port: uint16(port)}}}, nil
}

func openSession(ctx context.Context, backend *logging.Backend, code string) (*wormhole.Wormhole, error) {
	w, err := wormhole.Open(ctx, sessionConfig(backend), code)
	if err != nil {
		return nil, err
	}
	if code == "" {
		fmt.Printf("wormhole code: %s\n", w.Code())
		fmt.Println("on the other computer, run: portkey recv-text (or recv-file) with that code")
	}
	return w, nil
}

func newSendTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-text <message>",
		Short: "Send a text message through a one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := newBackend()
			w, err := openSession(cmd.Context(), backend, "")
			if err != nil {
				return err
			}
			defer w.Close()
			if err := transfer.SendText(cmd.Context(), w, args[0]); err != nil {
				return err
			}
			fmt.Println("message delivered")
			return nil
		},
	}
}

func newRecvTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recv-text <code>",
		Short: "Receive a text message using a one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := newBackend()
			w, err := openSession(cmd.Context(), backend, args[0])
			if err != nil {
				return err
			}
			defer w.Close()
			text, err := transfer.ReceiveText(cmd.Context(), w)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}

func newSendFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-file <path>",
		Short: "Send a file through a one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := newBackend()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}
			w, err := openSession(cmd.Context(), backend, "")
			if err != nil {
				return err
			}
			defer w.Close()
			offer := transfer.FileOffer{
				Filename: filepath.Base(args[0]),
				Filesize: st.Size(),
			}
			if err := transfer.SendFile(cmd.Context(), transferConfig(backend), w, offer, f); err != nil {
				return err
			}
			fmt.Printf("sent %s (%d bytes)\n", offer.Filename, offer.Filesize)
			return nil
		},
	}
}

func newRecvFileCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "recv-file <code>",
		Short: "Receive a file using a one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := newBackend()
			w, err := openSession(cmd.Context(), backend, args[0])
			if err != nil {
				return err
			}
			defer w.Close()

			var out *os.File
			accept := func(o transfer.FileOffer) bool {
				name := filepath.Base(o.Filename)
				if name == "." || name == string(filepath.Separator) {
					return false
				}
				path := filepath.Join(outDir, name)
				f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
				if err != nil {
					fmt.Fprintf(os.Stderr, "refusing offer: %v\n", err)
					return false
				}
				out = f
				fmt.Fprintf(os.Stderr, "receiving %s (%d bytes)\n", name, o.Filesize)
				return true
			}

			offer, err := transfer.ReceiveFile(cmd.Context(), transferConfig(backend), w, accept, writerOrDiscard{&out})
			if out != nil {
				cerr := out.Close()
				if err == nil {
					err = cerr
				}
			}
			if err != nil {
				return err
			}
			fmt.Printf("received %s (%d bytes)\n", filepath.Base(offer.Filename), offer.Filesize)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output-dir", "o", ".", "directory to write the received file into")
	return cmd
}

// writerOrDiscard defers the write target to the file the accept callback
// opened.
type writerOrDiscard struct {
	f **os.File
}

func (w writerOrDiscard) Write(b []byte) (int, error) {
	if *w.f == nil {
		return len(b), nil
	}
	return (*w.f).Write(b)
}

func newRelayCmd() *cobra.Command {
	var (
		listenAddr  string
		transitAddr string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the rendezvous and transit relays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := newBackend()
			log := backend.Logger("relay")

			reg := prom.NewRegistry()

			scfg := server.DefaultConfig()
			scfg.Logging = backend
			scfg.Observer = prom.NewMailboxServerObserver(reg)
			rs := server.New(scfg)
			defer rs.Stop()

			tcfg := relay.DefaultConfig()
			tcfg.ListenAddr = transitAddr
			tcfg.Logging = backend
			ts, err := relay.New(tcfg)
			if err != nil {
				return err
			}
			defer ts.Stop()

			mux := http.NewServeMux()
			mux.Handle("/v1", rs)
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			httpSrv := &http.Server{Addr: listenAddr, Handler: mux}

			var metricsSrv *http.Server
			if metricsAddr != "" {
				mm := http.NewServeMux()
				mm.Handle("/metrics", prom.Handler(reg))
				metricsSrv = &http.Server{Addr: metricsAddr, Handler: mm}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Warningf("metrics server: %v", err)
					}
				}()
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- httpSrv.ListenAndServe()
			}()
			log.Noticef("rendezvous on %s, transit relay on %s", listenAddr, ts.Addr())

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-stop:
			case <-cmd.Context().Done():
			}
			_ = httpSrv.Close()
			if metricsSrv != nil {
				_ = metricsSrv.Close()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":4000", "rendezvous websocket listen address")
	cmd.Flags().StringVar(&transitAddr, "transit-listen", ":4001", "transit relay listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "prometheus metrics listen address (disabled when empty)")
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:           "portkey",
		Short:         "Send things from one computer to another, safely",
		Version:       version.String(buildVersion, buildCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flagRendezvousURL, "rendezvous-url", "ws://127.0.0.1:4000/v1", "rendezvous server websocket URL")
	root.PersistentFlags().StringVar(&flagAppID, "appid", "portkey-sh/portkey/transfer", "application namespace; both sides must match")
	root.PersistentFlags().StringVar(&flagRelayHint, "transit-relay", "", "transit relay host:port offered to the peer")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newSendTextCmd(),
		newRecvTextCmd(),
		newSendFileCmd(),
		newRecvFileCmd(),
		newRelayCmd(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
