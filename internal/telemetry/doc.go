// Package telemetry provides the ambient logging, metrics, and tracing
// wiring shared by every workflow package in this module.
package telemetry
