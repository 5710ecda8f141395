// Package backend defines the contract between the gateway and the process
// that actually evaluates code. The gateway never supervises that process;
// it only calls Runner and reads Health.
package backend
