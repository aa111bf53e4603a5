package threads

import (
	"fmt"

	wasmbridge "github.com/lovell/sharp-sub001"
)

// MessageKind tags a Message.
type MessageKind uint8

const (
	// main -> worker
	MsgLoad MessageKind = iota
	MsgRun
	MsgCancel
	MsgCheckMailbox

	// worker -> main
	MsgLoaded
	MsgCallHandler
	MsgPrint
	MsgPrintErr
	MsgCleanupThread
	MsgKillThread
	MsgSpawnThread
	MsgProxy
)

var messageNames = [...]string{
	MsgLoad:          "load",
	MsgRun:           "run",
	MsgCancel:        "cancel",
	MsgCheckMailbox:  "checkMailbox",
	MsgLoaded:        "loaded",
	MsgCallHandler:   "callHandler",
	MsgPrint:         "print",
	MsgPrintErr:      "printErr",
	MsgCleanupThread: "cleanupThread",
	MsgKillThread:    "killThread",
	MsgSpawnThread:   "spawnThread",
	MsgProxy:         "proxy",
}

func (k MessageKind) String() string {
	if int(k) < len(messageNames) {
		return messageNames[k]
	}
	return fmt.Sprintf("message(%d)", k)
}

// SpawnRequest is what pthread_create hands the pool.
type SpawnRequest struct {
	// ThreadPtr is the guest's pthread control block.
	ThreadPtr uint32
	// StartRoutine is a table index of type (i32) -> i32.
	StartRoutine uint32
	Arg          uint32
	Detached     bool
}

// Message is the unit carried by inboxes and mailboxes. Only the fields that
// belong to Kind are set.
type Message struct {
	Kind   MessageKind
	Worker *Worker

	Spawn SpawnRequest // MsgRun, MsgSpawnThread
	Text  string       // MsgPrint, MsgPrintErr
	Err   error        // MsgKillThread, MsgLoaded
	Code  int32        // MsgCleanupThread

	// MsgCallHandler
	Handler string
	Args    []uint64

	Call *ProxyCall // MsgProxy, MsgCheckMailbox

	reply chan wasmbridge.Errno // MsgSpawnThread
}
