package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emmett/voxmsg/internal/app"
	"github.com/emmett/voxmsg/internal/config"
	"github.com/emmett/voxmsg/internal/errlog"
	"github.com/emmett/voxmsg/internal/input"
	"github.com/emmett/voxmsg/internal/notify"
	"github.com/emmett/voxmsg/internal/output"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file (default: ~/.voxmsgrc or /etc/voxmsg/config.yaml)")
	serverURL    = flag.String("server", "", "Messaging server base URL")
	token        = flag.String("token", "", "Bearer token (prefer VOXMSG_TOKEN)")
	conversation = flag.String("conversation", "", "Conversation to send voice messages to")
	audioDevice  = flag.String("device", "", "Microphone name or ID (use -list-devices to see available devices)")
	outputDevice = flag.String("output-device", "", "Speaker ID for playback")
	outputFormat = flag.String("format", "text", "Result format: text, json")
	sendFile     = flag.String("file", "", "Send an existing audio file and exit")
	duration     = flag.Float64("duration", 0, "Duration in seconds of -file (measured for wav)")
	playMessage  = flag.String("play", "", "Play a sent voice message by ID and exit")
	pushToTalk   = flag.Bool("ptt", false, "Push-to-talk mode using a global hotkey")
	hotkey       = flag.String("hotkey", "", "Push-to-talk hotkey (default: Ctrl+Shift+V)")
	hotkeyMode   = flag.String("hotkey-mode", "", "Push-to-talk mode: toggle, hold")
	logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error")
	listDevices  = flag.Bool("list-devices", false, "List all available audio devices")
	showVersion  = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("voxmsg v%s\n", Version)
		fmt.Printf("  Commit:  %s\n", GitCommit)
		fmt.Printf("  Branch:  %s\n", GitBranch)
		fmt.Printf("  Built:   %s\n", BuildTime)
		os.Exit(0)
	}

	if *listDevices {
		if err := app.NewDeviceManager(nil, nil).ListDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadWithFallback(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load config: %v\n", err)
		cfg = config.DefaultConfig()
		cfg.ApplyEnv(os.LookupEnv)
	}
	applyFlags(cfg)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags overrides config values with flags that were set explicitly.
func applyFlags(cfg *config.Config) {
	flagsSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		flagsSet[f.Name] = true
	})

	set := func(name string, dst *string, val string) {
		if flagsSet[name] {
			*dst = val
		}
	}
	set("server", &cfg.Server.URL, *serverURL)
	set("token", &cfg.Server.Token, *token)
	set("conversation", &cfg.Server.ConversationID, *conversation)
	set("device", &cfg.Audio.Device, *audioDevice)
	set("output-device", &cfg.Audio.OutputDevice, *outputDevice)
	set("format", &cfg.Output.Format, *outputFormat)
	set("hotkey", &cfg.Hotkey.Key, *hotkey)
	set("hotkey-mode", &cfg.Hotkey.Mode, *hotkeyMode)
	set("log-level", &cfg.Logging.Level, *logLevel)
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cfg.NewLogger(os.Stderr)

	formatter, err := output.NewFormatter(cfg.Output.Format, os.Stdout)
	if err != nil {
		return err
	}
	defer formatter.Close()

	console := output.NewConsoleOutput(output.ConsoleConfig{Writer: os.Stderr})
	ui := app.NewInteractive(console, formatter, os.Stdin)

	var ptt *app.PTT
	observer := ui.OnState
	if *pushToTalk {
		mode, err := input.ParseMode(cfg.Hotkey.Mode)
		if err != nil {
			return err
		}
		var notifier notify.Notifier = notify.Nop{}
		if cfg.Notify.Enabled {
			notifier = notify.NewDesktop(notify.Config{Sound: cfg.Notify.Sound, CopyPath: cfg.Notify.CopyPath}, logger)
		}
		ptt = app.NewPTT(ui, cfg.Hotkey.Key, mode, notifier)
		observer = ptt.OnState
	}

	p, err := app.Build(cfg, logger, app.WithObserver(observer), app.WithLevelHandler(ui.OnLevel))
	if err != nil {
		return err
	}
	defer p.Close()

	switch {
	case *sendFile != "":
		res, err := p.SendFile(ctx, *sendFile, "", *duration, func(pct int) {
			console.WriteProgress("Uploading", pct)
		})
		console.Clear()
		if err != nil {
			logger.Debug("send file failed", "path", *sendFile, "error", err)
			return errlog.Friendly(err)
		}
		return formatter.WriteSent(output.SentMessage{
			Index:           1,
			MessageID:       res.MessageID,
			AudioPath:       res.AudioPath,
			ConversationID:  cfg.Server.ConversationID,
			DurationSeconds: int(res.Message.AudioDuration + 0.5),
			Timestamp:       time.Now(),
		})
	case *playMessage != "":
		if err := p.PlayMessage(ctx, *playMessage); err != nil {
			logger.Debug("play failed", "message_id", *playMessage, "error", err)
			return errlog.Friendly(err)
		}
		return nil
	case ptt != nil:
		return ptt.Run(ctx, p)
	default:
		return ui.Run(ctx, p)
	}
}
