package models

// EventType tags outbound observer frames
type EventType string

const (
	EventTypeUpdate EventType = "update"
	EventTypeScan   EventType = "scan"
)

// Event is a change notification fanned out to observers.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// UpdateData is the payload of an update event.
type UpdateData struct {
	Card        PublicCard        `json:"card"`
	HistoryItem TransactionRecord `json:"historyItem"`
}

// ScanData is the payload of a scan event.
type ScanData struct {
	CardID string `json:"cardId"`
}

// NewUpdateEvent builds an update event for a committed mutation.
func NewUpdateEvent(card PublicCard, item TransactionRecord) Event {
	return Event{Type: EventTypeUpdate, Data: UpdateData{Card: card, HistoryItem: item}}
}

// NewScanEvent builds a scan event for a touched card.
func NewScanEvent(cardID string) Event {
	return Event{Type: EventTypeScan, Data: ScanData{CardID: cardID}}
}

// CardID returns the card the event refers to.
func (e Event) CardID() string {
	switch d := e.Data.(type) {
	case UpdateData:
		return d.Card.ID
	case ScanData:
		return d.CardID
	}
	return ""
}
