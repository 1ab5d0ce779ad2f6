// Package pcapusb reads USB transaction records captured in the
// DLT_USB_LINUX_MMAPPED pcap link-layer format (the Linux usbmon "mmapped"
// header), as produced by tcpdump/usbmon captures of a /dev/bus/usb node.
//
// It is built on github.com/google/gopacket/pcapgo for the outer pcap
// container (global header, per-record header, byte order detection) and
// decodes the fixed 64-byte usbmon_packet header itself, since gopacket has
// no built-in USB link-layer decoder.
package pcapusb
