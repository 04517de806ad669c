package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrInvalidDocument reports converter output that is not a well-formed
// conversation: null where an object is required, or a missing field the
// indexes are built from.
var ErrInvalidDocument = errors.New("invalid conversation document")

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

func missing(what, field string) error {
	return fmt.Errorf("%w: %s has no %s", ErrInvalidDocument, what, field)
}

func null(what string) error {
	return fmt.Errorf("%w: %s is null", ErrInvalidDocument, what)
}

// Sender values produced by the converter.
const (
	SenderApp  = "app"
	SenderUser = "user"
)

// Direction buckets classifications by who authored the message.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// DirectionOf maps a message sender to its direction. Unknown senders
// report false and contribute nothing to the classification index.
func DirectionOf(sender string) (Direction, bool) {
	switch sender {
	case SenderApp:
		return Outbound, true
	case SenderUser:
		return Inbound, true
	default:
		return "", false
	}
}

// Value wraps the single-field objects the converter emits for classification parts.
type Value struct {
	Value string `json:"value"`
}

// Classification is a tagged category attached to a message part.
type Classification struct {
	BaseType Value  `json:"base_type"`
	SubType  Value  `json:"sub_type"`
	Style    *Value `json:"style,omitempty"`
}

// UnmarshalJSON requires base_type and sub_type; style is optional.
func (c *Classification) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return null("classification")
	}
	var doc struct {
		BaseType *Value `json:"base_type"`
		SubType  *Value `json:"sub_type"`
		Style    *Value `json:"style"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.BaseType == nil {
		return missing("classification", "base_type")
	}
	if doc.SubType == nil {
		return missing("classification", "sub_type")
	}
	*c = Classification{BaseType: *doc.BaseType, SubType: *doc.SubType, Style: doc.Style}
	return nil
}

// Key identifies a classification for deduplication: base/sub[#style].
func (c Classification) Key() string {
	key := c.BaseType.Value + "/" + c.SubType.Value
	if c.Style != nil {
		key += "#" + c.Style.Value
	}
	return key
}

// SlotGroup is the value stored under a part's slots mapping.
type SlotGroup struct {
	BaseType string   `json:"base_type"`
	Entity   string   `json:"entity"`
	Roles    []string `json:"roles"`
}

type slotGroupDoc SlotGroup

// UnmarshalJSON requires a roles list.
func (g *SlotGroup) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return null("slot group")
	}
	var doc slotGroupDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Roles == nil {
		return missing("slot group", "roles")
	}
	*g = SlotGroup(doc)
	return nil
}

// Expand returns one Slot per role, in role order.
func (g SlotGroup) Expand() []Slot {
	slots := make([]Slot, 0, len(g.Roles))
	for _, role := range g.Roles {
		slots = append(slots, Slot{BaseType: g.BaseType, Entity: g.Entity, Role: role})
	}
	return slots
}

// Slot is a single (base_type, entity, role) triple.
type Slot struct {
	BaseType string `json:"base_type"`
	Entity   string `json:"entity"`
	Role     string `json:"role"`
}

// Key identifies a slot for deduplication: base/entity#role.
func (s Slot) Key() string {
	return s.BaseType + "/" + s.Entity + "#" + s.Role
}

// Part is one segment of a message. Slots keeps the document's key order.
type Part struct {
	Content         string                                    `json:"content"`
	Classifications []Classification                          `json:"classifications,omitempty"`
	Slots           *orderedmap.OrderedMap[string, SlotGroup] `json:"slots,omitempty"`
}

// Message is a single turn in a conversation.
type Message struct {
	Sender string `json:"sender"`
	Parts  []Part `json:"parts"`
}

type partDoc Part

// UnmarshalJSON rejects a null part. Classifications and slots may be absent.
func (p *Part) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return null("part")
	}
	var doc partDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*p = Part(doc)
	return nil
}

type messageDoc Message

// UnmarshalJSON requires a parts list.
func (m *Message) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return null("message")
	}
	var doc messageDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Parts == nil {
		return missing("message", "parts")
	}
	*m = Message(doc)
	return nil
}

// Conversation is one converted source file. Filename is provenance attached
// by the scanner; the converter never produces it.
//
// Fields of the converter's document that are not modelled here are kept
// verbatim and written back out when the conversation is encoded.
type Conversation struct {
	Filename string
	Name     string
	Messages []Message

	raw map[string]json.RawMessage
}

type conversationDoc struct {
	Filename string    `json:"filename,omitempty"`
	Name     string    `json:"conversation_name"`
	Messages []Message `json:"messages"`
}

// UnmarshalJSON decodes a converter document, keeping unknown fields.
// The document must be an object with a messages list.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return null("conversation")
	}
	var doc conversationDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Messages == nil {
		return missing("conversation", "messages")
	}
	c.Filename = doc.Filename
	c.Name = doc.Name
	c.Messages = doc.Messages
	c.raw = fields
	return nil
}

// MarshalJSON encodes the conversation with its filename attached.
func (c Conversation) MarshalJSON() ([]byte, error) {
	if c.raw == nil {
		return json.Marshal(conversationDoc{Filename: c.Filename, Name: c.Name, Messages: c.Messages})
	}

	fields := make(map[string]json.RawMessage, len(c.raw)+1)
	for k, v := range c.raw {
		fields[k] = v
	}
	filename, err := json.Marshal(c.Filename)
	if err != nil {
		return nil, fmt.Errorf("marshal filename: %w", err)
	}
	fields["filename"] = filename
	return json.Marshal(fields)
}

// WithFilename returns a copy of c carrying the given provenance.
func (c Conversation) WithFilename(name string) Conversation {
	c.Filename = name
	return c
}

// Classifications holds the deduplicated classification index per direction.
type Classifications struct {
	Inbound  []Classification `json:"inbound"`
	Outbound []Classification `json:"outbound"`
}

// Corpus is the aggregate result of one scan.
type Corpus struct {
	Conversations   []Conversation  `json:"conversations"`
	Classifications Classifications `json:"classifications"`
	Slots           []Slot          `json:"slots"`
}
