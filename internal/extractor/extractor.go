package extractor

import (
	"github.com/MikeSquared-Agency/corpusd/internal/conversation"
	"github.com/MikeSquared-Agency/corpusd/internal/dedup"
)

func classificationKey(c conversation.Classification) string { return c.Key() }

func slotKey(s conversation.Slot) string { return s.Key() }

// ExtractClassifications collects every classification attached to app and
// user messages, buckets them by direction and deduplicates each bucket.
// Order is first-seen across conversations, messages and parts.
func ExtractClassifications(convs []conversation.Conversation) conversation.Classifications {
	buckets := map[conversation.Direction]*dedup.Index[conversation.Classification]{
		conversation.Inbound:  dedup.New(classificationKey),
		conversation.Outbound: dedup.New(classificationKey),
	}

	for _, conv := range convs {
		for _, msg := range conv.Messages {
			dir, ok := conversation.DirectionOf(msg.Sender)
			if !ok {
				continue
			}
			for _, part := range msg.Parts {
				for _, c := range part.Classifications {
					buckets[dir].Add(c)
				}
			}
		}
	}

	return conversation.Classifications{
		Inbound:  buckets[conversation.Inbound].Items(),
		Outbound: buckets[conversation.Outbound].Items(),
	}
}

// ExtractSlots expands every slot group in the corpus into one slot per role
// and deduplicates the result. The sender plays no part: slots from inbound
// and outbound messages share one index.
func ExtractSlots(convs []conversation.Conversation) []conversation.Slot {
	slots := dedup.New(slotKey)

	for _, conv := range convs {
		for _, msg := range conv.Messages {
			for _, part := range msg.Parts {
				if part.Slots == nil {
					continue
				}
				for pair := part.Slots.Oldest(); pair != nil; pair = pair.Next() {
					for _, s := range pair.Value.Expand() {
						slots.Add(s)
					}
				}
			}
		}
	}

	return slots.Items()
}

// Build assembles the corpus from converted conversations and their indexes.
func Build(convs []conversation.Conversation) *conversation.Corpus {
	if convs == nil {
		convs = []conversation.Conversation{}
	}
	return &conversation.Corpus{
		Conversations:   convs,
		Classifications: ExtractClassifications(convs),
		Slots:           ExtractSlots(convs),
	}
}
