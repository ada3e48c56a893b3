package gateway

import (
	"github.com/hanpama/fedgate/internal/assembler"
	"github.com/hanpama/fedgate/internal/plancache"
	schema "github.com/hanpama/fedgate/internal/schema"
)

// Generation is everything derived from one supergraph: the schema, its
// version hash and the plans computed against it. A reload replaces the
// whole Generation, so a plan never outlives the schema it was made for.
type Generation struct {
	Schema  *schema.Schema
	Version string
	Plans   *plancache.Cache

	assembler *assembler.Assembler
}

func newGeneration(sdl []byte, opts plancache.Options) (*Generation, error) {
	version := plancache.SchemaVersion(sdl)
	s, err := schema.BuildFromSDL("supergraph", string(sdl))
	if err != nil {
		return nil, err
	}
	plans, err := plancache.New(opts)
	if err != nil {
		return nil, err
	}
	return &Generation{
		Schema:    s,
		Version:   version,
		Plans:     plans,
		assembler: assembler.New(s),
	}, nil
}
