// Package tls builds TLS configurations for the gateway client and the emulator
// listener, and generates self-signed certificates for local development.
package tls
