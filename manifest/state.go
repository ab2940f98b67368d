package manifest

import (
	"context"
	"crypto/md5"
	"os"

	"github.com/plexbeam/cartridge/log"
	"github.com/plexbeam/cartridge/workerclient"
)

// PostState is the first-POST gate: no_manifest -> ready_not_posted
// (once an init segment and a media segment both exist on disk) ->
// posted. Once posted, a later call only re-POSTs when the on-disk
// manifest's md5 has changed; it never regresses to ready_not_posted.
type PostState int

const (
	StateNoManifest PostState = iota
	StateReadyNotPosted
	StatePosted
)

// Gate tracks one output directory's manifest-post state across the
// life of a session.
type Gate struct {
	sessionID  string
	state      PostState
	lastMD5    [16]byte
	hasInit    bool
	hasMedia   bool
}

func NewGate(sessionID string) *Gate {
	return &Gate{sessionID: sessionID, state: StateNoManifest}
}

// Observe records that an init or media segment now exists on disk;
// called as the aggregator emits each file.
func (g *Gate) Observe(kind Kind) {
	switch kind {
	case KindInit:
		g.hasInit = true
	case KindMedia:
		g.hasMedia = true
	}
	if g.state == StateNoManifest && g.hasInit && g.hasMedia {
		g.state = StateReadyNotPosted
	}
}

// MaybePost POSTs manifestPath to callbackURL if the gate is ready and
// either never posted, or the on-disk bytes changed since the last
// successful POST.
func (g *Gate) MaybePost(ctx context.Context, client *workerclient.CallbackClient, callbackURL, manifestPath string) error {
	if g.state == StateNoManifest {
		return nil
	}

	body, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	sum := md5.Sum(body)
	if g.state == StatePosted && sum == g.lastMD5 {
		return nil
	}

	if err := client.PostManifest(ctx, callbackURL, ContentType(manifestPath), body); err != nil {
		return err
	}

	log.Log(g.sessionID, "manifest posted", "path", manifestPath, "state", "posted")
	g.state = StatePosted
	g.lastMD5 = sum
	return nil
}

func (g *Gate) State() PostState { return g.state }
