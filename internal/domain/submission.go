package domain

// MemeCard is an immutable card record
type MemeCard struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Submission represents the card a player played this round
type Submission struct {
	CardID      string `json:"cardId"`
	CardName    string `json:"cardName"`
	SubmittedAt int64  `json:"submittedAt"`
}
