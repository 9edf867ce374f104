// Command lipsync is the operator CLI for the lipsync daemon.
//
// It submits documents, inspects and cancels jobs, downloads artifacts, and
// reports daemon health over the HTTP API. The serve subcommand runs the
// daemon in the foreground; config init and validate manage the TOML file.
package main
