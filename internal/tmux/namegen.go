package tmux

import "math/rand"

// adjectives and nouns form the closed vocabulary create_window draws a
// random display name from when the caller supplies no name.
var adjectives = []string{
	"amber", "brisk", "calm", "dusty", "eager", "faint", "glad", "hollow",
	"idle", "jolly", "keen", "lucid", "mellow", "nimble", "odd", "plain",
	"quiet", "rusty", "sharp", "tidy", "urban", "vivid", "warm", "young",
}

var nouns = []string{
	"anchor", "badger", "canyon", "delta", "ember", "falcon", "glacier",
	"harbor", "island", "jungle", "kestrel", "lantern", "meadow", "nebula",
	"otter", "pebble", "quarry", "raven", "summit", "thicket", "umbra",
	"valley", "willow", "zephyr",
}

// randomName returns a hyphenated adjective-noun pair, e.g. "brisk-otter".
func randomName() string {
	return adjectives[rand.Intn(len(adjectives))] + "-" + nouns[rand.Intn(len(nouns))]
}
