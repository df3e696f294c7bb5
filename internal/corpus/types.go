package corpus

import "fmt"

// Record is one (incoming message, persona reply) pair extracted from the raw
// conversation export. Records are produced once and never modified.
type Record struct {
	OtherPerson string `json:"other_person"`
	YourReply   string `json:"your_reply"`
	Timestamp   int64  `json:"timestamp"`
}

// PairText renders the record the way it is embedded and stored, e.g.
// "User: hi\nMatt: hey!".
func (r Record) PairText(personaAlias string) string {
	return fmt.Sprintf("User: %s\n%s: %s", r.OtherPerson, personaAlias, r.YourReply)
}

// Turn is a single chat message in completion-request order.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FineTuneExample is one training sample in the chat fine-tuning format.
type FineTuneExample struct {
	Messages []Turn `json:"messages"`
}
