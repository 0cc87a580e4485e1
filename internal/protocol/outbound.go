package protocol

import "encoding/json"

// Outbound message types.
const (
	TypeRegistered           = "registered"
	TypeAuthError            = "authError"
	TypeMatchingStarted      = "matchingStarted"
	TypeMatchingCancelled    = "matchingCancelled"
	TypeRoomCreated          = "roomCreated"
	TypeError                = "error"
	TypeMatchStart           = "matchStart"
	TypeCountdown            = "countdown"
	TypeStateUpdate          = "stateUpdate"
	TypeInvalidMove          = "invalidMove"
	TypeOpponentDisconnected = "opponentDisconnected"
	TypeMatchEnd             = "matchEnd"
)

// Outbound is a server-to-client message.
type Outbound interface {
	OutboundType() string
}

// Encode frames an outbound message.
func Encode(msg Outbound) ([]byte, error) {
	return encode(msg.OutboundType(), msg)
}

// Profile is the public view of a registered player.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Pronoun     string `json:"pronoun"`
	Rating      int    `json:"rating"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username,omitempty"`
	Guest       bool   `json:"guest"`
}

type Registered struct {
	Profile Profile `json:"profile"`
	Token   string  `json:"token,omitempty"`
}

type AuthError struct {
	Reason string `json:"reason"`
}

type MatchingStarted struct {
	Difficulty string `json:"difficulty"`
}

type MatchingCancelled struct{}

type RoomCreated struct {
	Code       string `json:"code"`
	Difficulty string `json:"difficulty"`
}

type Error struct {
	Reason string `json:"reason"`
}

// OpponentSummary describes the other side at match start.
type OpponentSummary struct {
	DisplayName string `json:"displayName"`
	Rating      int    `json:"rating"`
}

type MatchStart struct {
	SessionID  string          `json:"sessionId"`
	Opponent   OpponentSummary `json:"opponent"`
	IsCustom   bool            `json:"isCustom"`
	Difficulty string          `json:"difficulty"`
	View       View            `json:"view"`
}

// CountdownTick carries the remaining count, or the start marker once the
// count reaches zero.
type CountdownTick struct {
	Count int
	Start bool
}

const StartMarker = "start"

func (c CountdownTick) MarshalJSON() ([]byte, error) {
	if c.Start {
		return json.Marshal(struct {
			Count string `json:"count"`
		}{StartMarker})
	}
	return json.Marshal(struct {
		Count int `json:"count"`
	}{c.Count})
}

func (c *CountdownTick) UnmarshalJSON(data []byte) error {
	var raw struct {
		Count json.RawMessage `json:"count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var marker string
	if json.Unmarshal(raw.Count, &marker) == nil {
		c.Start = marker == StartMarker
		c.Count = 0
		return nil
	}
	c.Start = false
	return json.Unmarshal(raw.Count, &c.Count)
}

type StateUpdate struct {
	View View `json:"view"`
}

type InvalidMove struct {
	Reason string `json:"reason"`
}

type OpponentDisconnected struct {
	Message string `json:"message"`
}

// MatchEnd is the final result for one side.
type MatchEnd struct {
	SessionID    string `json:"sessionId"`
	WinnerID     string `json:"winnerId"`
	IsWinner     bool   `json:"isWinner"`
	OpponentName string `json:"opponentName"`
	RatingDelta  int    `json:"ratingDelta"`
	NewRating    int    `json:"newRating"`
	IsCustom     bool   `json:"isCustom"`
	Reason       string `json:"reason"`
}

// View is one player's picture of a session. OpponentCards is nil when the
// rules hide the opponent's hand.
type View struct {
	SessionID         string `json:"sessionId"`
	TargetValue       int64  `json:"targetValue"`
	MyCards           []int  `json:"myCards"`
	MyPlayable        []int  `json:"myPlayable"`
	MyDeckCount       int    `json:"myDeckCount"`
	OpponentCards     []int  `json:"opponentCards,omitempty"`
	OpponentHandCount int    `json:"opponentHandCount"`
	OpponentDeckCount int    `json:"opponentDeckCount"`
	OpponentName      string `json:"opponentName"`
	Status            string `json:"status"`
	LastUpdate        int64  `json:"lastUpdate"`
}

func (Registered) OutboundType() string           { return TypeRegistered }
func (AuthError) OutboundType() string            { return TypeAuthError }
func (MatchingStarted) OutboundType() string      { return TypeMatchingStarted }
func (MatchingCancelled) OutboundType() string    { return TypeMatchingCancelled }
func (RoomCreated) OutboundType() string          { return TypeRoomCreated }
func (Error) OutboundType() string                { return TypeError }
func (MatchStart) OutboundType() string           { return TypeMatchStart }
func (CountdownTick) OutboundType() string        { return TypeCountdown }
func (StateUpdate) OutboundType() string          { return TypeStateUpdate }
func (InvalidMove) OutboundType() string          { return TypeInvalidMove }
func (OpponentDisconnected) OutboundType() string { return TypeOpponentDisconnected }
func (MatchEnd) OutboundType() string             { return TypeMatchEnd }
