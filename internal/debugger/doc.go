// Package debugger implements the bridge between a debug front-end and
// JavaScript running in a sandboxed child process.
//
// Components:
//   - ConnectionManager: owns the single control socket to the packager
//     debug proxy and routes messages to the active sandbox lifetime
//   - SandboxWorker: one child-process lifetime executing the application
//     bundle, with a message channel distinct from stdio
//   - ScriptImporter: bundle and sourcemap download with ETag caching and
//     local path rewriting
//
// Control flow: the proxy announces a new JS runtime over the socket, the
// manager spawns a sandbox worker, the worker pulls the bundle through the
// importer on demand, and all subsequent traffic is relayed 1:1 between the
// socket and the child until the lifetime is replaced or the connection
// stops.
package debugger
