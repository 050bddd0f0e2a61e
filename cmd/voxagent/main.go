// Command voxagent is a terminal client for an agent-dialect endpoint. Lines
// typed on stdin are sent as user messages and the transcript is printed as
// it arrives.
//
// Lines starting with a slash are commands:
//
//	/quit            close the session and exit
//	/stop            close the socket but keep the session
//	/reconnect       open a new socket seeded with recent history
//	/prompt <text>   replace the agent's instructions
//	/history         print the local transcript
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MrWong99/voxbridge/internal/app"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/funcexec"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/agent"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with secrets")
	audioOut := flag.String("audio-out", "", "append raw agent audio (PCM16) to this file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "voxagent: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxagent: %v\n", err)
		return 1
	}

	// Logs go to stderr so they don't interleave with the transcript.
	logger, logCloser := observe.NewLogger(observe.LogConfig{
		Level: levelVar(cfg.Server.LogLevel),
		File:  cfg.Server.LogFile,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenHistoryStore(ctx, cfg.History)
	if err != nil {
		slog.Error("failed to open history store", "err", err)
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("history store close error", "err", err)
		}
	}()

	handler, err := functionHandler(cfg.Functions)
	if err != nil {
		slog.Error("failed to initialise function handler", "err", err)
		return 1
	}

	var audio io.Writer
	if *audioOut != "" {
		f, err := os.OpenFile(*audioOut, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("failed to open audio output", "err", err)
			return 1
		}
		defer f.Close()
		audio = f
	}

	sc := sessionConfig(cfg)
	conn, err := agent.Dial(ctx, sc,
		agent.WithHistoryStore(store),
		agent.WithFunctionHandler(handler),
		agent.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to connect", "url", sc.URL, "err", err)
		return 1
	}
	defer conn.Close()

	slog.Info("connected", "url", sc.URL, "upstream", sc.Upstream, "session_id", conn.ID())

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return 0

		case ev, ok := <-conn.Events():
			if !ok {
				return 0
			}
			printEvent(os.Stdout, audio, ev)

		case line, ok := <-lines:
			if !ok {
				return 0
			}
			quit, err := execute(ctx, conn, sc, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if quit {
				return 0
			}
		}
	}
}

func levelVar(l config.LogLevel) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(l.SlogLevel())
	return lv
}

// functionHandler forwards calls to the configured endpoint, or answers them
// with the built-in functions when there is none.
func functionHandler(cfg config.FunctionsConfig) (agent.FunctionHandler, error) {
	if cfg.Endpoint != "" {
		return funcexec.NewClient(cfg.Endpoint, funcexec.WithTimeout(cfg.Timeout))
	}
	reg := funcexec.NewRegistry()
	if err := funcexec.RegisterBuiltins(reg, nil); err != nil {
		return nil, err
	}
	return reg, nil
}

// sessionConfig builds the connection settings from the client section.
func sessionConfig(cfg *config.Config) agent.SessionConfig {
	c := cfg.Client
	s := wire.Settings{
		Audio: wire.AudioSettings{
			Input:  wire.AudioFormat{Encoding: wire.EncodingLinear16, SampleRate: c.InputSampleRate},
			Output: wire.AudioFormat{Encoding: wire.EncodingLinear16, SampleRate: c.OutputSampleRate},
		},
		Agent: wire.AgentSettings{
			Language: c.Language,
			Think:    wire.ThinkSettings{Prompt: c.Prompt},
			Greeting: c.Greeting,
		},
	}
	if c.Voice != "" {
		s.Agent.Speak = &wire.SpeakSettings{Provider: map[string]any{"model": c.Voice}}
	}
	for _, fn := range c.Functions {
		s.Agent.Think.Functions = append(s.Agent.Think.Functions, wire.FunctionDef{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}
	return agent.SessionConfig{
		URL:          c.URL,
		APIKey:       c.APIKey,
		Upstream:     c.Upstream,
		Settings:     s,
		IdleTimeout:  c.IdleTimeout,
		HistoryLimit: cfg.History.Limit,
		HistoryKey:   c.HistoryKey,
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out <- line
		}
	}
}

// execute runs one input line and reports whether the client should exit.
func execute(ctx context.Context, conn *agent.Conn, sc agent.SessionConfig, line string) (quit bool, err error) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return true, nil
	case "/stop":
		return false, conn.Stop()
	case "/reconnect":
		return false, conn.Reconnect(ctx)
	case "/prompt":
		if arg = strings.TrimSpace(arg); arg == "" {
			return false, errors.New("usage: /prompt <text>")
		}
		sc.Settings.Agent.Think.Prompt = arg
		return false, conn.Reconfigure(sc)
	case "/history":
		for _, e := range conn.History() {
			fmt.Printf("  %s %s: %s\n", e.Timestamp.Format("15:04:05"), e.Role, e.Text)
		}
		return false, nil
	}
	if strings.HasPrefix(cmd, "/") {
		return false, fmt.Errorf("unknown command %s", cmd)
	}
	return false, conn.Send(line)
}

func printEvent(w, audio io.Writer, ev agent.Event) {
	switch e := ev.(type) {
	case agent.ConversationText:
		fmt.Fprintf(w, "%s: %s\n", e.Role, e.Content)
	case agent.StateChanged:
		slog.Debug("state changed", "from", e.From, "to", e.To)
	case agent.FunctionCallRequested:
		slog.Info("function call", "name", e.Call.Name, "call_id", e.Call.ID)
	case agent.AgentAudio:
		if audio != nil {
			if _, err := audio.Write(e.PCM); err != nil {
				slog.Warn("audio write failed", "err", err)
			}
		}
	case agent.ErrorEvent:
		fmt.Fprintf(os.Stderr, "error: %v\n", e.Err)
	}
}
