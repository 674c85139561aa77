package techmap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"go.uber.org/zap"
)

// BuildError reports that a missing tech-map could not be produced.
type BuildError struct {
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build techmap %s: %v", e.Path, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Resolver makes sure a tech-map exists before aggregation starts.
type Resolver struct {
	FS      billy.Basic
	Builder Builder
	Log     *zap.Logger
}

// Ensure builds the tech-map at techmapPath if it does not exist yet.
// It reports whether a build ran. An existing file is trusted as is.
func (r *Resolver) Ensure(ctx context.Context, exclusionPath, generationPath, techmapPath string) (bool, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	_, err := r.FS.Stat(techmapPath)
	switch {
	case err == nil:
		log.Debug("techmap present", zap.String("path", techmapPath))
		return false, nil
	case !errors.Is(err, os.ErrNotExist):
		return false, &BuildError{Path: techmapPath, Err: err}
	}

	if r.Builder == nil {
		return false, &BuildError{Path: techmapPath, Err: errors.New("no techmap builder configured")}
	}

	log.Info("techmap missing, building",
		zap.String("path", techmapPath),
		zap.String("exclusion", exclusionPath),
		zap.String("generation", generationPath))
	if err := r.Builder.Build(ctx, exclusionPath, generationPath, techmapPath); err != nil {
		return false, &BuildError{Path: techmapPath, Err: err}
	}
	return true, nil
}
