// Package sandbox is the child-process side of a debugger lifetime.
//
// The bridge re-execs itself with the hidden "worker" command; this package
// then builds a goja JavaScript runtime around the downloaded bootstrap
// script and gives it exactly four capabilities:
//   - postMessage: emit a message on the process channel (fds 3/4)
//   - onmessage: receive messages dispatched from the channel
//   - importScripts: synchronously load named files from the storage dir
//   - require: resolve modules from an explicit host-provided registry
//
// Nothing is resolved ambiently: a module that was not registered at spawn
// time does not exist inside the sandbox. The process binds a local TCP port
// standing in for the engine inspector and reports it in the ready
// handshake.
package sandbox
