// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import "github.com/ava-labs/avalanchego/ids"

// RegisterValue names a register and the bytes to load into it before
// execution starts. The value is zero-extended to the register width.
type RegisterValue struct {
	Bits  uint32
	Index uint32
	Value []byte
}

// RegisterSlot names a register whose bytes are read back as an
// invocation output after a normal return.
type RegisterSlot struct {
	Bits  uint32
	Index uint32
}

// Invocation describes one call into an app.
type Invocation struct {
	// App is the address of the app to execute.
	App ids.ID
	// Method is the exported function to invoke.
	Method string
	// Params are the wasm scalar arguments passed to the export.
	Params []uint64
	// Args are written into the invocation's input registers before the
	// export runs.
	Args []RegisterValue
	// Returns designates the output registers read after a normal return.
	Returns []RegisterSlot
}

// Receipt is the result of a committed invocation. Aborted invocations
// yield no receipt, only an error.
type Receipt struct {
	App    ids.ID
	Method string
	// Results are the wasm values returned by the export.
	Results []uint64
	// Outputs are the bytes of the designated output registers, in the
	// order requested.
	Outputs [][]byte
	// Committed is true once the staged pages are durable.
	Committed bool
}
