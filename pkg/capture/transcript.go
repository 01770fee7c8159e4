package capture

// UtteranceBlock is one completed, attributed span of captured text.
type UtteranceBlock struct {
	PersonName     string `json:"person_name"`
	Timestamp      string `json:"timestamp"`
	TranscriptText string `json:"transcript_text"`
}

// ChatMessage is a single chat line observed alongside the caption stream.
type ChatMessage struct {
	PersonName      string `json:"person_name"`
	Timestamp       string `json:"timestamp"`
	ChatMessageText string `json:"chat_message_text"`
}

// Transcript is an append-only ordered sequence of utterance blocks. Insertion
// order is the source of truth; blocks are never reordered or mutated after
// append. It is not safe for concurrent use on its own: the owning
// Coordinator serializes all access.
type Transcript struct {
	blocks []UtteranceBlock
}

func (t *Transcript) Append(b UtteranceBlock) {
	t.blocks = append(t.blocks, b)
}

func (t *Transcript) Len() int {
	return len(t.blocks)
}

// Since returns a copy of all blocks with index >= from.
func (t *Transcript) Since(from int) []UtteranceBlock {
	if from < 0 {
		from = 0
	}
	if from >= len(t.blocks) {
		return nil
	}
	out := make([]UtteranceBlock, len(t.blocks)-from)
	copy(out, t.blocks[from:])
	return out
}

// Blocks returns a copy of the full transcript.
func (t *Transcript) Blocks() []UtteranceBlock {
	return t.Since(0)
}
