package main

import (
	"context"
	"flag"
	"fmt"
	"go_ota/client/comms"
	"go_ota/constants"
	"go_ota/fileio"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/akamensky/argparse"
	"github.com/golang/glog"
)

func main() {
	args := argparse.NewParser("client", "Over-the-air firmware update uploader")

	bind := args.String("a", "address", &argparse.Options{Required: true, Help: "Device host address"})
	dscp := args.Int("d", "dscp", &argparse.Options{Required: false, Help: "DSCP field for QoS", Default: 0})
	file := args.String("f", "file", &argparse.Options{Required: true, Help: "Firmware image path"})
	pass := args.String("k", "key", &argparse.Options{Required: false, Help: "Device OTA password"})
	legacy := args.Flag("l", "legacy-auth", &argparse.Options{Help: "Advertise MD5 authentication only"})
	noCompress := args.Flag("n", "no-compress", &argparse.Options{Help: "Never send an LZ4 compressed image"})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Device OTA port",
		Default: constants.DEFAULT_PORT})
	retries := args.Int("r", "retries", &argparse.Options{Required: false, Help: "Connect retries",
		Default: constants.DEFAULT_CLIENT_RETRIES})
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

	fileName := filepath.Clean(*file)

	// Get file info.
	finfo, err := os.Stat(fileName)
	if err != nil {
		glog.Exit(err)
	}
	if finfo.IsDir() {
		glog.Exitf("Provided path %s is a directory", fileName)
	}

	checksum, err := fileio.GetFileChecksumMD5(fileName)
	if err != nil {
		glog.Exit(err)
	}
	image, err := os.ReadFile(fileName)
	if err != nil {
		glog.Exit(err)
	}
	glog.Infof("Image %s is %d bytes, MD5 %s", fileName, len(image), checksum)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := net.JoinHostPort(*bind, strconv.Itoa(*port))
	client, err := comms.Connect(ctx, addr, *dscp, uint64(max(*retries, 0)))
	if err != nil {
		glog.Exitf("Could not connect to %s: %v", addr, err)
	}
	defer client.Close()
	glog.Info("Connected to ", addr)

	begin := time.Now()
	lastPercent := -1
	opts := comms.Options{
		Password:   *pass,
		Compress:   !*noCompress,
		LegacyAuth: *legacy,
		Progress: func(sent, total int) {
			percent := 100
			if total > 0 {
				percent = sent * 100 / total
			}
			if percent/10 != lastPercent/10 {
				lastPercent = percent
				glog.Infof("Uploading: %d%%", percent)
			}
		},
	}

	if err := client.Upload(image, opts); err != nil {
		glog.Errorf("Upload failed: %v", err)
		glog.Flush()
		os.Exit(2)
	}
	glog.Infof("Update installed in %v, device is rebooting", time.Since(begin))
}
