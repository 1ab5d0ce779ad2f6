//go:build linux

// Command usb-replay answers usbdevfs ioctls against a recorded capture.
//
// Two modes are supported. -dry-run drives the handler against an in-memory
// fake client built by replaying the recording's own non-control submit
// records back at itself — useful for exercising the matcher end to end
// with no real device or traced process involved. -pid attaches to an
// already-stopped process and resolves exactly one ioctl call, specified by
// -request and -arg; capturing the ioctl in the first place is the
// out-of-scope transport the core is built to sit behind.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ardnew/usbioctlreplay/memview"
	"github.com/ardnew/usbioctlreplay/pcapusb"
	"github.com/ardnew/usbioctlreplay/pkg"
	"github.com/ardnew/usbioctlreplay/pkg/prof"
	"github.com/ardnew/usbioctlreplay/replay"
	"github.com/ardnew/usbioctlreplay/usbfs"
)

var (
	pcapPath   = flag.String("pcap", "", "path to a DLT_USB_LINUX_MMAPPED recording (required)")
	bus        = flag.Uint("bus", 0, "bus number to filter on")
	device     = flag.Uint("device", 0, "device address to filter on")
	verbose    = flag.Bool("v", false, "enable debug logging")
	jsonOut    = flag.Bool("json", false, "emit logs as JSON")
	cpuProfile = flag.String("cpuprofile", "", "write a CPU profile to this path (requires -tags profile)")
	dryRun     = flag.Bool("dry-run", false, "self-drive the handler from the recording's own submit records")
	pid        = flag.Int("pid", 0, "attach to this pid and resolve one ioctl call (mutually exclusive with -dry-run)")
	requestHex = flag.String("request", "", "ioctl request code for -pid mode, e.g. 0x8004551f")
	argAddr    = flag.Uint64("arg", 0, "client address of the ioctl argument for -pid mode")
)

func main() {
	flag.Parse()

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	} else {
		pkg.SetLogLevel(slog.LevelInfo)
	}
	if *jsonOut {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	if *pcapPath == "" {
		fmt.Fprintln(os.Stderr, "usb-replay: -pcap is required")
		flag.Usage()
		os.Exit(2)
	}

	if *cpuProfile != "" {
		if err := prof.StartCPU(*cpuProfile); err != nil {
			pkg.LogError(pkg.ComponentCLI, "failed to start cpu profile", "error", err)
			os.Exit(1)
		}
		defer prof.StopCPU()
	}

	var err error
	switch {
	case *dryRun && *pid != 0:
		err = fmt.Errorf("usb-replay: -dry-run and -pid are mutually exclusive")
	case *dryRun:
		err = runDryRun(*pcapPath, uint16(*bus), uint8(*device))
	case *pid != 0:
		err = runPtrace(*pcapPath, uint16(*bus), uint8(*device), *pid, *requestHex, *argAddr)
	default:
		err = fmt.Errorf("usb-replay: one of -dry-run or -pid is required")
	}
	if err != nil {
		pkg.LogError(pkg.ComponentCLI, "usb-replay failed", "error", err)
		os.Exit(1)
	}
}

// runDryRun replays every non-control submit record for (bus, device) back
// at a fresh Handler through a FakeClient, reaping after each submission,
// and reports how many round-tripped to a completion.
func runDryRun(path string, bus uint16, device uint8) error {
	h, err := replay.New(path, bus, device)
	if err != nil {
		return fmt.Errorf("construct handler: %w", err)
	}
	defer h.Close()

	scan, err := pcapusb.Open(path)
	if err != nil {
		return fmt.Errorf("open recording for scan: %w", err)
	}
	defer scan.Close()

	client := memview.NewFakeClient(uint64(usbfs.IoctlGetCapabilities))

	capAddr := client.Alloc(4)
	client.SetArg(capAddr)
	client.SetRequest(uint64(usbfs.IoctlGetCapabilities))
	h.Handle(client)
	if ret, errno, _ := client.Completed(); ret != 0 {
		pkg.LogWarn(pkg.ComponentCLI, "capability query failed", "ret", ret, "errno", errno)
	}

	reapAddr := client.Alloc(8)
	submitted, completed := 0, 0

	for {
		rec, ok, err := scan.Next()
		if err != nil {
			return fmt.Errorf("scan recording: %w", err)
		}
		if !ok {
			break
		}
		if rec.BusID != bus || rec.DeviceAddress != device {
			continue
		}
		if rec.EventType != pcapusb.EventSubmit {
			continue
		}
		if usbfs.TransferType(rec.TransferType) == usbfs.TransferControl {
			continue
		}

		urbAddr := buildURB(client, rec)
		client.SetRequest(uint64(usbfs.IoctlSubmitURB))
		client.SetArg(urbAddr)
		h.Handle(client)
		if ret, errno, _ := client.Completed(); ret != 0 {
			pkg.LogWarn(pkg.ComponentCLI, "dry-run submit rejected",
				"endpoint", rec.EndpointNumber, "ret", ret, "errno", errno)
			continue
		}
		submitted++

		client.SetRequest(uint64(usbfs.IoctlReapURBNDelay))
		client.SetArg(reapAddr)
		h.Handle(client)
		if ret, _, _ := client.Completed(); ret == 0 {
			completed++
		}
	}

	pkg.LogInfo(pkg.ComponentCLI, "dry run complete",
		"submitted", submitted, "completed", completed)
	return nil
}

// buildURB allocates and populates a synthetic struct usbdevfs_urb for rec,
// plus a backing buffer of rec.URBLen bytes when that is non-zero
// (pre-filled with the recorded payload for OUT transfers), returning the
// urb's client address.
func buildURB(client *memview.FakeClient, rec pcapusb.Record) uint64 {
	urbAddr := client.Alloc(usbfs.URBSize)
	urb := client.At(urbAddr)
	urb[usbfs.URBTypeOffset] = rec.TransferType
	urb[usbfs.URBEndpointOffset] = rec.EndpointNumber

	if rec.URBLen > 0 {
		bufAddr := client.Alloc(int(rec.URBLen))
		if rec.DataLen > 0 {
			copy(client.At(bufAddr), rec.Payload)
		}
		client.PutUint64(urbAddr, usbfs.URBBufferOffset, bufAddr)
	}
	putUint32At(client, urbAddr, usbfs.URBBufferLengthOffset, rec.URBLen)
	return urbAddr
}

func putUint32At(client *memview.FakeClient, addr uint64, offset uintptr, v uint32) {
	buf := client.At(addr)
	buf[offset] = byte(v)
	buf[offset+1] = byte(v >> 8)
	buf[offset+2] = byte(v >> 16)
	buf[offset+3] = byte(v >> 24)
}

// runPtrace attaches to pid, resolves and dispatches one ioctl call, and
// detaches. Capturing request and arg from the real syscall is left to
// whatever transport sits in front of this core.
func runPtrace(path string, bus uint16, device uint8, pid int, requestHex string, arg uint64) error {
	if requestHex == "" {
		return fmt.Errorf("%w: -request is required with -pid", pkg.ErrInvalidRequest)
	}
	request, err := strconv.ParseUint(requestHex, 0, 64)
	if err != nil {
		return fmt.Errorf("%w: parse -request %q: %w", pkg.ErrInvalidRequest, requestHex, err)
	}

	h, err := replay.New(path, bus, device)
	if err != nil {
		return fmt.Errorf("construct handler: %w", err)
	}
	defer h.Close()

	if err := memview.Attach(pid); err != nil {
		return err
	}
	defer func() {
		if err := memview.Detach(pid); err != nil {
			pkg.LogWarn(pkg.ComponentCLI, "detach failed", "pid", pid, "error", err)
		}
	}()

	client := memview.NewPtraceClient(pid, request, arg)
	if !h.Handle(client) {
		return fmt.Errorf("ioctl %#x against pid %d was not handled", request, pid)
	}
	pkg.LogInfo(pkg.ComponentCLI, "ioctl dispatched", "pid", pid, "request", fmt.Sprintf("%#x", request))
	return nil
}
