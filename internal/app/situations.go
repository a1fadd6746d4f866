package app

import (
	"math/rand"
	"sync"
)

// Situations is a curated list of prompts that pair well with reaction memes
var Situations = []string{
	// Work
	"When the meeting could have been an email",
	"When you push to main on a Friday afternoon",
	"When the intern finds the bug you missed for a week",
	"When someone replies all to the whole company",
	"When the deploy works on the first try",
	"When your manager says 'quick question'",
	"When the coffee machine breaks before standup",
	"When you realise you were on mute the whole time",

	// School
	"When the professor says the exam is open book",
	"When you studied the wrong chapter",
	"When the group project partner finally replies",
	"When the professor cancels class five minutes late",

	// Everyday
	"When your food arrives and everyone else's looks better",
	"When the Wi-Fi drops during the final boss",
	"When you wave back at someone who wasn't waving at you",
	"When your phone is at 1% and the charger is across the room",
	"When the cat knocks something off the table on purpose",
	"When you hear your own voice on a recording",
	"When you open the fridge for the fifth time hoping for new food",
	"When the song you skipped is stuck in your head",

	// Social
	"When your friend says 'I'm five minutes away'",
	"When someone spoils the season finale",
	"When the group chat goes silent after your joke",
	"When you remember something embarrassing from ten years ago",
	"When the waiter says 'enjoy your meal' and you say 'you too'",
	"When you see your ex at the supermarket",

	// Internet
	"When the comment section is better than the video",
	"When the captcha asks you to find traffic lights again",
	"When the update takes longer than the download",
	"When you accidentally like a photo from 2014",
}

// SituationDeck deals prompts without immediate repeats
type SituationDeck struct {
	mu    sync.Mutex
	items []string
	rng   *rand.Rand
}

// NewSituationDeck creates a deck over items, or the built-in list when empty.
// A nil rng uses the package-level source.
func NewSituationDeck(items []string, rng *rand.Rand) *SituationDeck {
	if len(items) == 0 {
		items = Situations
	}
	return &SituationDeck{items: items, rng: rng}
}

// Next returns a random prompt that's not in the excluded list
func (d *SituationDeck) Next(excluded ...string) string {
	excludeMap := make(map[string]bool, len(excluded))
	for _, s := range excluded {
		excludeMap[s] = true
	}

	// Try to find a non-excluded prompt
	for attempts := 0; attempts < 100; attempts++ {
		s := d.random()
		if !excludeMap[s] {
			return s
		}
	}

	// Fallback: just return any prompt
	return d.random()
}

func (d *SituationDeck) random() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rng != nil {
		return d.items[d.rng.Intn(len(d.items))]
	}
	return d.items[rand.Intn(len(d.items))]
}
