package matchmaking

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
)

var moods = []string{
	"brave", "calm", "curious", "gentle", "merry", "quiet", "bright", "mellow", "lucky", "witty",
	"bold", "sunny", "dreamy", "lively", "humble", "eager", "clever", "breezy", "nimble", "candid",
}

var creatures = []string{
	"otter", "heron", "lynx", "marten", "wren", "gecko", "ibis", "tapir", "okapi", "quokka",
	"puffin", "ferret", "badger", "falcon", "koala", "lemur", "marmot", "newt", "oriole", "walrus",
}

var places = []string{
	"harbor", "meadow", "canyon", "lagoon", "summit", "orchard", "tundra", "delta", "prairie", "grove",
	"reef", "dune", "glacier", "valley", "island", "marsh", "ridge", "cove", "fjord", "savanna",
}

var duets = []string{
	"tango", "waltz", "duet", "echo", "mirror", "tandem", "twin", "pair", "chorus", "relay",
	"swing", "rhythm", "ballad", "cadence", "harmony", "encore", "sonnet", "riddle", "parley", "banter",
}

// newRoomID builds a mood-creature-place-duet id that is not already in use.
func newRoomID(inUse func(string) bool) string {
	for {
		id := fmt.Sprintf("%s-%s-%s-%s",
			pick(moods), pick(creatures), pick(places), pick(duets))
		if !inUse(id) {
			return id
		}
	}
}

func pick(words []string) string {
	return words[randomIndex(len(words))]
}

// randomIndex returns a uniformly random index in [0, n).
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		slog.Error("crypto/rand failed", "error", err)
		panic(err)
	}
	return int(v.Int64())
}
