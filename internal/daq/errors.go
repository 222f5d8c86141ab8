package daq

import "errors"

// Domain errors for device channel operations.
var (
	// ErrUnknownDriver indicates no driver is registered under the given name.
	ErrUnknownDriver = errors.New("daq: unknown driver")

	// ErrClosed indicates an operation on a channel that was already closed.
	ErrClosed = errors.New("daq: channel closed")

	// ErrVectorLength indicates a write whose length does not match the
	// configured channel list.
	ErrVectorLength = errors.New("daq: vector length does not match channel count")

	// ErrNoInputs indicates a read on a channel without analog inputs.
	ErrNoInputs = errors.New("daq: no analog input channels configured")

	// ErrNoOutputs indicates a channel spec without analog outputs.
	ErrNoOutputs = errors.New("daq: no analog output channels configured")

	// ErrTimeout indicates the device did not answer in time.
	ErrTimeout = errors.New("daq: device timeout")
)

// DeviceError carries a failure reported by the device itself.
type DeviceError struct {
	Op      string
	Message string
}

func (e *DeviceError) Error() string {
	return "daq: " + e.Op + ": device reported: " + e.Message
}
