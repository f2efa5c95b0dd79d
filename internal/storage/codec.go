// Package storage holds the durable pipeline.Store backends (postgres,
// redisstore) and the codec contract they share for persisting the engine's
// otherwise-opaque Pr/Commit/Remote identities.
package storage

import (
	"fmt"

	"github.com/r3e-network/mergequeue/internal/identity"
	"github.com/r3e-network/mergequeue/internal/pipeline"
)

// Codec translates the engine's opaque identities to and from the flat
// strings a durable backend can store, index, and query on. The engine
// itself never needs this: it's a concern of the backends, which must
// actually put bytes on disk or over the wire.
type Codec interface {
	EncodePr(pipeline.Pr) string
	EncodeCommit(pipeline.Commit) string
	EncodeRemote(pipeline.Remote) string
	// DecodePr reconstructs a Pr from its encoded form and remote.
	DecodePr(encoded string, remote string) (pipeline.Pr, error)
	DecodeCommit(encoded string) (pipeline.Commit, error)
	DecodeRemote(encoded string) pipeline.Remote
}

// IdentityCodec is the default Codec, built on internal/identity's
// owner/repo#number Pr and SHA Commit representations.
type IdentityCodec struct{}

var _ Codec = IdentityCodec{}

func (IdentityCodec) EncodePr(pr pipeline.Pr) string         { return pr.String() }
func (IdentityCodec) EncodeCommit(c pipeline.Commit) string  { return c.String() }
func (IdentityCodec) EncodeRemote(r pipeline.Remote) string  { return r.String() }
func (IdentityCodec) DecodeRemote(encoded string) pipeline.Remote {
	return identity.Remote(encoded)
}

func (IdentityCodec) DecodePr(encoded string, remote string) (pipeline.Pr, error) {
	pr, err := identity.ParsePr(encoded, identity.Remote(remote))
	if err != nil {
		return nil, fmt.Errorf("storage: decode pr: %w", err)
	}
	return pr, nil
}

func (IdentityCodec) DecodeCommit(encoded string) (pipeline.Commit, error) {
	if encoded == "" {
		return nil, nil
	}
	return identity.Commit(encoded), nil
}
