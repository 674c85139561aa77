package aggregate

import "fmt"

// InputError reports a required input that does not exist.
type InputError struct {
	Name string
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s input %s: %v", e.Name, e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// WorkerError reports the failure of one chunk of a parallel run.
type WorkerError struct {
	Chunk    int
	FirstGID int
	LastGID  int
	Err      error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("chunk %d (gids %d..%d): %v", e.Chunk, e.FirstGID, e.LastGID, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }
