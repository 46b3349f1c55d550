// Command companion is the phone-side agent: it pairs with a hub, keeps a
// local encrypted-at-rest cache in sync, and answers freshness and wipe
// commands. The mobile UI embeds this logic; the CLI surface here exists for
// development and headless use.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ktiyab/coheara/internal/companion/cache"
	"github.com/ktiyab/coheara/internal/companion/config"
	"github.com/ktiyab/coheara/internal/companion/syncer"
	"github.com/ktiyab/coheara/internal/companion/transport"
	"github.com/ktiyab/coheara/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "pair":
		return cmdPair(args)
	case "run":
		return cmdRun(args)
	case "status":
		return cmdStatus(args)
	case "wipe":
		return cmdWipe(args)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: companion <command> [flags]

commands:
  pair    -hub URL -session ID -pin PIN -key HUBKEY [-name NAME]
  run     sync continuously with the hub (default)
  status  print cache freshness
  wipe    -mode full|health_only`)
}

func cachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return dir + "/coheara/cache.db", nil
}

func cmdPair(args []string) error {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	hub := fs.String("hub", "", "hub base URL, e.g. https://192.168.1.10:8443")
	session := fs.String("session", "", "pairing session id from the QR code")
	pin := fs.String("pin", "", "pairing PIN from the QR code")
	hubKey := fs.String("key", "", "hub public key from the QR code")
	name := fs.String("name", "Companion", "device name shown on the hub")
	fs.Parse(args)

	if *hub == "" || *session == "" || *pin == "" || *hubKey == "" {
		return fmt.Errorf("pair requires -hub, -session, -pin and -key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("submitting key, waiting for approval on the desktop...")
	creds, err := transport.Pair(ctx, transport.PairRequest{
		HubURL:       *hub,
		SessionID:    *session,
		PIN:          *pin,
		HubPublicKey: *hubKey,
		DeviceName:   *name,
	})
	if err != nil {
		return err
	}

	credPath, err := config.DefaultPath()
	if err != nil {
		return err
	}
	if err := config.Save(credPath, creds); err != nil {
		return err
	}
	fmt.Printf("paired as device %s\n", creds.DeviceID)
	return nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	interval := fs.Duration("interval", 15*time.Minute, "background sync interval")
	logLevel := fs.String("log-level", "info", "log level")
	fs.Parse(args)

	logger := logging.Setup(*logLevel, "")

	credPath, err := config.DefaultPath()
	if err != nil {
		return err
	}
	creds, err := config.Load(credPath)
	if err != nil {
		return err
	}

	path, err := cachePath()
	if err != nil {
		return err
	}
	c, err := cache.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()

	client, err := transport.New(creds, func(newToken string) {
		creds.Token = newToken
		if err := config.Save(credPath, creds); err != nil {
			logger.Error("persist rotated token", "error", err)
		}
	}, logger)
	if err != nil {
		return err
	}

	s := syncer.New(client, c, *interval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Any hub-side mutation triggers an immediate delta pull.
	go client.ListenLoop(ctx, map[string]transport.NotificationHandler{
		"sync_update": func(transport.Notification) { s.Kick() },
	})

	logger.Info("companion running", "hub", creds.HubURL, "interval", *interval)
	s.Run(ctx)
	logger.Info("companion stopped")
	return nil
}

func cmdStatus(args []string) error {
	path, err := cachePath()
	if err != nil {
		return err
	}
	c, err := cache.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()

	f, err := c.Freshness(time.Now())
	if err != nil {
		return err
	}

	if f.LastSyncedAt == nil {
		fmt.Println("last sync: never")
	} else {
		fmt.Printf("last sync: %s (%s ago)\n",
			f.LastSyncedAt.Local().Format(time.RFC1123),
			time.Since(*f.LastSyncedAt).Round(time.Minute))
	}
	fmt.Println("freshness:", f.Tier)
	if f.Warning != "" {
		fmt.Println("warning:", f.Warning)
	}
	return nil
}

func cmdWipe(args []string) error {
	fs := flag.NewFlagSet("wipe", flag.ExitOnError)
	mode := fs.String("mode", "full", "full or health_only")
	fs.Parse(args)

	var m cache.WipeMode
	switch *mode {
	case "full":
		m = cache.WipeFull
	case "health_only":
		m = cache.WipeHealthOnly
	default:
		return fmt.Errorf("unknown wipe mode %q", *mode)
	}

	path, err := cachePath()
	if err != nil {
		return err
	}
	c, err := cache.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Wipe(m); err != nil {
		return err
	}
	if err := c.VerifyWiped(m); err != nil {
		return fmt.Errorf("wipe verification: %w", err)
	}
	fmt.Println("cache wiped and verified")
	return nil
}
