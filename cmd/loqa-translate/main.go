package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/present"
	"github.com/loqalabs/loqa-live/internal/stream"
	"github.com/loqalabs/loqa-live/internal/translate"
)

var version = "0.1.0-dev"

func main() {
	var configPath string
	translateCmd := flag.NewFlagSet("translate", flag.ExitOnError)
	translateCmd.StringVar(&configPath, "config", "loqa-live.yaml", "Path to configuration file")
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&configPath, "config", "loqa-live.yaml", "Path to configuration file")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'translate', 'validate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "translate":
		_ = translateCmd.Parse(os.Args[2:])
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runTranslate(ctx, configPath, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "validate":
		_ = validateCmd.Parse(os.Args[2:])
		if _, err := config.Load(configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("config valid")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

// runTranslate pairs each line typed on in until EOF, "exit" or "quit".
func runTranslate(ctx context.Context, path string, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	translator, err := translate.New(cfg.Translation)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pairer := translate.NewPairer(cfg.Translation, translator, nil, logger)
	console := present.NewConsole(out, cfg.Translation.PrimaryLanguage, cfg.Translation.SecondaryLanguage, cfg.Output.Color)

	primary, secondary := pairer.Languages()
	fmt.Fprintf(out, "Translating %s <-> %s. Type 'exit' to quit.\n", present.LanguageName(primary), present.LanguageName(secondary))

	scanner := bufio.NewScanner(in)
	index := 0
	for {
		fmt.Fprint(out, ">> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if cmd := strings.ToLower(line); cmd == "exit" || cmd == "quit" {
			break
		}
		pair, err := pairer.Pair(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "translation failed: %v\n", err)
		}
		update := stream.Update{WindowIndex: index, Delta: line, Language: pair.Detected, Pair: &pair, Timestamp: time.Now().UTC()}
		if err := console.Publish(ctx, update); err != nil {
			return err
		}
		index++
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}
