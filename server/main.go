package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"go_ota/constants"
	"go_ota/fileio"
	"go_ota/networking/response"
	server "go_ota/server/controller"
	"go_ota/server/scheduler"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

func main() {
	args := argparse.NewParser("server", constants.Title)

	bind := args.String("a", "address", &argparse.Options{Required: false, Help: "Listen on address",
		Default: ""})
	dscp := args.Int("d", "dscp", &argparse.Options{Required: false, Help: "DSCP field for accepted connections",
		Default: 0})
	pass := args.String("k", "key", &argparse.Options{Required: false, Help: "OTA password, OTA_PASSWORD is used when empty"})
	allowMD5 := args.Flag("m", "allow-md5-auth", &argparse.Options{Help: "Let clients without SHA-256 support authenticate with MD5 (deprecated)"})
	noSHA := args.Flag("n", "no-sha256", &argparse.Options{Help: "Platform has no SHA-256, authenticate with MD5"})
	protocol := args.Int("o", "protocol", &argparse.Options{Required: false, Help: "Protocol version announced to clients (1-2)",
		Default: constants.OTA_VERSION_2_0})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Listening port",
		Default: constants.DEFAULT_PORT})
	path := args.String("r", "root", &argparse.Options{Required: true, Help: "Image slot directory or raw update device"})
	maxSize := args.Int("s", "max-size", &argparse.Options{Required: false, Help: "Slot capacity in bytes",
		Default: constants.DEFAULT_MAX_IMAGE_SIZE})
	reboot := args.Selector("b", "reboot", []string{"none", "exec", "system"}, &argparse.Options{Required: false,
		Help: "How the new image is started", Default: "none"})
	watchdog := args.Int("w", "watchdog", &argparse.Options{Required: false, Help: "Watchdog timeout in seconds, 0 disables",
		Default: int(constants.WATCHDOG_TIMEOUT / time.Second)})
	noCompress := args.Flag("z", "no-compression", &argparse.Options{Help: "Refuse compressed uploads"})
	verbosity := args.Int("v", "verbosity", &argparse.Options{Required: false, Help: "Log verbosity (0-2)", Default: 0})

	err := args.Parse(os.Args)

	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	flag.Set("logtostderr", "true")
	flag.Set("v", strconv.Itoa(*verbosity))
	// argparse owns the command line, glog only sees what is set above.
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	if *pass == "" {
		*pass = os.Getenv("OTA_PASSWORD")
	}

	cfg := server.DefaultConfig()
	cfg.Address = *bind
	cfg.Port = *port
	cfg.Password = *pass
	cfg.Version = uint8(*protocol)
	cfg.DSCP = *dscp
	cfg.SHA256Supported = !*noSHA
	cfg.AllowLegacyMD5 = *allowMD5
	if err := cfg.Validate(); err != nil {
		glog.Exit(err)
	}

	backends, err := fileio.Detect(*path, int64(*maxSize), !*noCompress)
	if err != nil {
		glog.Exit(err)
	}

	image := *path
	if slots, ok := backends.(*fileio.SlotFactory); ok {
		image = filepath.Join(slots.Root, constants.FIRMWARE_IMAGE_NAME)
	} else if *reboot == "exec" {
		glog.Exit("exec reboot needs an image slot directory")
	}
	rebooter, err := scheduler.NewRebooter(*reboot, image, os.Args[1:])
	if err != nil {
		glog.Exit(err)
	}

	var wd *scheduler.Watchdog
	if *watchdog > 0 {
		wd = scheduler.NewWatchdog(time.Duration(*watchdog)*time.Second, nil)
	}

	app := scheduler.New(scheduler.NewSystemClock(), wd, rebooter)
	status := app.NewStatus("ota")
	ota := server.NewServer(cfg, app, status, backends)
	ota.AddStateListener(func(state response.State, progress float32, code response.Code) {
		if state == response.StateError {
			glog.Errorf("OTA state %v: %s", state, response.Describe(code))
			return
		}
		glog.V(1).Infof("OTA state %v at %0.1f%%", state, progress)
	})
	app.Register(ota, status)
	defer ota.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The watchdog has nothing left to guard once the loop is gone.
		defer cancel()
		return app.Run(ctx)
	})
	if wd != nil {
		g.Go(func() error {
			return wd.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("Stopped: %v", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Info("Stopped")
}
