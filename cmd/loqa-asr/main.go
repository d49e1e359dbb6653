package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-asr/asr"
	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/config"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'transcribe', 'models', 'resample' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "transcribe":
		err = runTranscribe(os.Args[2:])
	case "models":
		err = runModels(os.Args[2:])
	case "resample":
		err = runResample(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engineFlags registers the flags shared by commands that build an engine.
func engineFlags(fs *flag.FlagSet) (configPath, mode *string) {
	configPath = fs.String("config", "", "Path to configuration file (engine section is used)")
	mode = fs.String("engine", "", "Override engine mode (mock, exec, whisper)")
	return configPath, mode
}

func loadEngineConfig(configPath, mode string) (asr.Config, error) {
	cfg := asr.DefaultConfig()
	if configPath != "" {
		full, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = full.Engine
	}
	if mode != "" {
		cfg.Mode = mode
	}
	return cfg, config.ValidateEngine(cfg)
}

func runTranscribe(args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	file := fs.String("file", "", "WAV file to transcribe")
	configPath, mode := engineFlags(fs)
	_ = fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("transcribe: -file is required")
	}

	cfg, err := loadEngineConfig(*configPath, *mode)
	if err != nil {
		return err
	}
	buf, err := readWAV(*file)
	if err != nil {
		return err
	}
	fmt.Printf("audio: %s, %.0f Hz, %d samples\n", buf.Duration().Round(time.Millisecond), buf.SampleRate, len(buf.Samples))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc, err := asr.New(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := context.Background()
	start := time.Now()
	if err := svc.Initialize(ctx); err != nil {
		return err
	}
	fmt.Printf("engine %s initialized in %s\n", cfg.Mode, time.Since(start).Round(time.Millisecond))

	start = time.Now()
	res, err := svc.TranscribeAt(ctx, buf.Samples, buf.SampleRate)
	if err != nil {
		return err
	}
	processing := time.Since(start)

	fmt.Printf("text: %s\n", res.Text)
	fmt.Printf("confidence: %.3f\n", res.Confidence)
	fmt.Printf("processing: %s\n", processing.Round(time.Millisecond))
	if d := buf.Duration(); d > 0 {
		fmt.Printf("real-time factor: %.3f\n", processing.Seconds()/d.Seconds())
	}
	return nil
}

func runModels(args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	configPath, mode := engineFlags(fs)
	_ = fs.Parse(args)

	cfg, err := loadEngineConfig(*configPath, *mode)
	if err != nil {
		return err
	}
	fmt.Printf("engine: %s\n", cfg.Mode)
	fmt.Printf("models present: %t\n", asr.ModelsExist(cfg))
	path, err := asr.GetModelPath(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("model path: %s\n", path)
	return nil
}

func runResample(args []string) error {
	fs := flag.NewFlagSet("resample", flag.ExitOnError)
	in := fs.String("in", "", "Input WAV file")
	out := fs.String("out", "", "Output WAV file (16 kHz mono)")
	_ = fs.Parse(args)
	if *in == "" || *out == "" {
		return fmt.Errorf("resample: -in and -out are required")
	}

	buf, err := readWAV(*in)
	if err != nil {
		return err
	}
	mono, err := buf.To16kMono()
	if err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	if err := audio.WriteWAV(f, mono.Samples, audio.TargetSampleRate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %d samples at %d Hz to %s\n", len(mono.Samples), audio.TargetSampleRate, *out)
	return nil
}

func readWAV(path string) (audio.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return audio.ReadWAV(f)
}
