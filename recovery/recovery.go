package recovery

// Strategy decides how structural damage encountered while reading a
// document is handled: abort, skip the damaged region, or continue with a
// recorded warning.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location pinpoints where in the document an error was met.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionWarn
)
