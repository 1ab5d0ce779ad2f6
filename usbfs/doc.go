// Package usbfs defines the Linux usbdevfs ioctl ABI consumed by the replay
// core: opcode numbers, the _IOC encoding used to build and decode them, the
// usb_devfs_urb field layout, and the advertised capability bitmask.
//
// None of this talks to a real character device. It is the same bit-level
// contract a real /dev/bus/usb/BBB/DDD node exposes, reused here so that the
// replay core can decode an incoming ioctl request the same way the kernel
// would and resolve the right argument size against client memory.
package usbfs
