// Package replay implements the USB-over-pcap ioctl replay core: a Handler
// that answers usbdevfs ioctls by correlating them against a previously
// recorded DLT_USB_LINUX_MMAPPED capture instead of talking to real
// hardware.
//
// A Handler is a single long-lived object parameterized by a pcap recording
// and a (bus, device) filter. It is driven entirely by inbound Handle
// calls; it never does work on its own goroutine, and it is not safe for
// concurrent Handle calls — callers serialize ioctl delivery themselves, the
// same single-threaded contract the teacher's host stack places on its own
// hal.HostHAL implementations.
package replay
