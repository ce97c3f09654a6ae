package main

import (
	"bytes"
	"flag"
	"log"
	"time"

	"github.com/rarydzu/gblockfile/blockfile"
	"github.com/rarydzu/gblockfile/blockfile/accel"
	"github.com/rarydzu/gblockfile/blockfile/config"
	"github.com/rarydzu/gblockfile/driver"
	"github.com/rarydzu/gblockfile/utils"
	"go.uber.org/zap"
)

var fFile = flag.String("file", "", "Path to the backing file.")
var fSize = flag.Int("size", 1<<22, "Number of bytes to round-trip.")
var fWorkers = flag.Int("workers", 0, "Transfer worker count, 0 means one bulk call.")
var fBlockSize = flag.Int64("block_size", config.DefaultBlockSize, "Per-worker streaming block size.")
var fDevice = flag.Bool("device", false, "Round-trip through a device resident buffer.")
var fStatsPath = flag.String("stats_path", "", "Path of the stats journal.")
var fDev = flag.Bool("dev", false, "Run in development mode")

func main() {
	flag.Parse()
	logger, err := zap.NewProduction()
	if *fDev {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	sugarlog := logger.Sugar()

	if *fFile == "" {
		log.Fatalf("You must set --file.")
	}

	var rt *accel.SimRuntime
	if *fDevice {
		rt = accel.NewSimRuntime()
		if err := accel.SetRuntime(rt); err != nil {
			log.Fatalf("SetRuntime: %v", err)
		}
	}

	if err := blockfile.RegisterDriver(&config.Config{
		WorkerCount: *fWorkers,
		BlockSize:   *fBlockSize,
		StatsPath:   *fStatsPath,
	}, sugarlog); err != nil {
		log.Fatalf("RegisterDriver: %v", err)
	}

	file, err := driver.Open(blockfile.DriverName, *fFile,
		driver.ReadWrite|driver.Create, driver.MaxAddr)
	if err != nil {
		log.Fatalf("Open: %v", err)
	}

	size := *fSize
	file.SetEOA(uint64(size))
	if err := file.Truncate(); err != nil {
		log.Fatalf("Truncate: %v", err)
	}

	var out, in []byte
	if rt != nil {
		out = rt.Malloc(size)
		in = rt.Malloc(size)
	} else {
		out = make([]byte, size)
		in = make([]byte, size)
	}
	copy(out, utils.RandBytes(size))

	tStart := time.Now()
	if err := file.WriteAt(0, out); err != nil {
		log.Fatalf("WriteAt: %v", err)
	}
	wElapsed := time.Since(tStart)
	tStart = time.Now()
	if err := file.ReadAt(0, in); err != nil {
		log.Fatalf("ReadAt: %v", err)
	}
	rElapsed := time.Since(tStart)

	if !bytes.Equal(out, in) {
		log.Fatalf("round-trip mismatch: %d bytes differ", size)
	}

	bf := file.(*blockfile.File)
	st := bf.Stats()
	sugarlog.Infof("round-trip ok: %d bytes, write %s, read %s", size, wElapsed, rElapsed)
	sugarlog.Infof("host bytes: %d read / %d written, device bytes: %d read / %d written, workers spawned: %d",
		st.HostBytesRead, st.HostBytesWritten, st.DeviceBytesRead, st.DeviceBytesWritten, st.WorkerSpawns)

	if err := file.Close(); err != nil {
		log.Fatalf("Close: %v", err)
	}
}
