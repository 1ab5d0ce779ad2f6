// Package memview resolves absolute addresses in a USB ioctl client's
// address space into readable/writable byte views, with dirty tracking so
// changes are written back to the client when a view is marked dirty.
//
// [Client] is the contract the replay dispatcher depends on; it is
// satisfied by [PtraceClient] (a PTRACE_ATTACH-backed collaborator against a
// real traced process, linux-only) and [FakeClient] (an in-process byte
// arena used by every test and by the demo CLI's dry-run mode). Both
// implementations model the teacher's hal package's own split between a
// real hardware-facing implementation and an in-process fake used
// everywhere tests need a collaborator but not a real device.
package memview
