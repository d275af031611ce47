// Package sopsfs contains the shared contract for filesystems that project
// SOPS-encrypted documents as navigable, writable file namespaces: the FS
// interface, the change-event model, error sentinels, and the namespace
// address encoding used to multiplex many documents behind one tree.
//
// The concrete implementations live in subpackages: docfs projects a single
// encrypted document, multifs multiplexes many of them, and tracefs wraps
// either with OpenTelemetry instrumentation.
package sopsfs
