package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/dxgraph/graph"
	"github.com/dshills/dxgraph/graph/emit"
	"github.com/dshills/dxgraph/graph/model"
	"github.com/dshills/dxgraph/graph/tool"
)

// Generator produces a reply conforming to shape and decodes it into out.
// *model.Structured implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string, shape *model.Shape, out any) error
}

// TextGenerator produces free text. *model.Text implements it.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// PhenotypeLookup ranks diseases by phenotype similarity to a feature set.
type PhenotypeLookup interface {
	Lookup(ctx context.Context, features []string, limit int) ([]PhenotypeMatch, error)
}

// ImageMatcher suggests syndromes from a facial image.
type ImageMatcher interface {
	Match(ctx context.Context, imagePath string, limit int) ([]ImageMatch, error)
}

// Searcher retrieves literature or reference text about a term.
type Searcher interface {
	Name() string
	Search(ctx context.Context, term string, limit int) ([]Hit, error)
}

// Hit is one document returned by a Searcher.
type Hit struct {
	Title   string
	URL     string
	Content string
}

// LabelResolver maps feature ids to display names. Ids without a label are
// left out of the returned map.
type LabelResolver interface {
	Labels(ctx context.Context, ids []string) (map[string]string, error)
}

// CollaboratorError reports a failed call to an external collaborator.
// Inside a branch or evidence search it only empties that contribution.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// StageError reports the node that aborted a run and the depth reached.
type StageError struct {
	Stage string
	Depth int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("workflow failed at %s (depth %d): %v", e.Stage, e.Depth, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// retryable reports whether a collaborator failure is worth another attempt.
func retryable(err error) bool {
	var se *tool.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return model.IsTransient(err)
}

// trace emits a node-level event. em may be nil.
func trace(ctx context.Context, em emit.Emitter, msg string, meta map[string]interface{}) {
	if em == nil {
		return
	}
	em.Emit(emit.Event{
		RunID:  graph.RunIDFromContext(ctx),
		NodeID: graph.NodeIDFromContext(ctx),
		Msg:    msg,
		Meta:   meta,
	})
}
