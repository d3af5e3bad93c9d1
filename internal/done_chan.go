package internal

// DoneChan is a channel that is closed exactly once to signal
// completion of a background task. It is the "done" piece of the
// heartbeater's stop/lost/done handshake.
type DoneChan chan struct{}

// DoneFunc stops a background task and returns the channel that will
// be closed once it has actually finished.
type DoneFunc func() DoneChan
