// Package threads runs guest pthreads on worker contexts.
//
// A Pool owns every Worker. Each worker is one goroutine with its own module
// instance (created by a Runner) over the shared linear memory. Workers move
// between two lists:
//
//	unused -> running -> unused      thread returned normally or was cancelled
//	                  -> terminated  thread trapped, or the pool shut down
//
// The Main context is whichever goroutine owns the pool. Workers talk to it
// by posting Messages on its inbox; Main.Serve and Main.Join drain that
// inbox. Operations that must run on the main context (process exit, parts
// of the filesystem) go through Main.Proxy, which serializes arguments as
// float64 words on the caller's scratch stack and blocks on sync calls.
//
// Each context also has a Mailbox: a flag plus a queue. A running worker
// only sees its mailbox when the guest checks it (pthread_testcancel or
// emscripten_check_mailbox); an idle one wakes up on the notify channel.
// Cancellation is delivered this way, so a cancelled thread always leaves
// through ExitThread and its joiner sees PTHREAD_CANCELED.
package threads
