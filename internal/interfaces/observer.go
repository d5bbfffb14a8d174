package interfaces

// Observer receives protocol server events. Calls come from the poll loop
// goroutine; implementations that are read elsewhere must synchronize.
type Observer interface {
	// ObserveAccept is called for each accepted connection, rejected or not.
	ObserveAccept(rejected bool)

	// ObserveDisconnect is called when a client is closed.
	ObserveDisconnect()

	// ObserveDevlist is called for each OP_REQ_DEVLIST answered.
	ObserveDevlist()

	// ObserveImport is called for each OP_REQ_IMPORT answered.
	ObserveImport(success bool)

	// ObserveSubmit is called when a URB's RET_SUBMIT is queued. outBytes
	// is host-to-device data, inBytes device-to-host data.
	ObserveSubmit(outBytes, inBytes uint64, latencyNs uint64, status int32)

	// ObserveUnlink is called for each CMD_UNLINK; found reports whether a
	// pending URB was dropped.
	ObserveUnlink(found bool)

	// ObserveProtocolError is called when a client is dropped for sending
	// a malformed or unexpected frame.
	ObserveProtocolError()
}
