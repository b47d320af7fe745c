package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"watch_together/native/internal/domain"
)

// ErrForeignScope is returned by Decode for messages tagged with another scope.
var ErrForeignScope = errors.New("message belongs to another scope")

// ErrUnknownType is returned by Decode for message types outside the protocol.
var ErrUnknownType = errors.New("unknown message type")

// envelope is the wire form shared by every message variant.
type envelope struct {
	Scope            string               `json:"scope,omitempty"`
	Type             domain.MessageType   `json:"type"`
	RoomID           string               `json:"roomId,omitempty"`
	ID               string               `json:"id,omitempty"`
	To               string               `json:"to,omitempty"`
	From             string               `json:"from,omitempty"`
	SDP              json.RawMessage      `json:"sdp,omitempty"`
	OfferFingerprint string               `json:"offerFingerprint,omitempty"`
	Candidate        *domain.ICECandidate `json:"candidate,omitempty"`
	Time             *float64             `json:"time,omitempty"`
}

// Encode renders msg in wire form, tagged with scope when scope is non-empty.
func Encode(scope string, msg domain.Message) ([]byte, error) {
	env := envelope{Scope: scope, Type: msg.Type()}

	switch m := msg.(type) {
	case domain.Create:
		env.RoomID = m.RoomID
	case domain.Join:
		env.RoomID = m.RoomID
	case domain.Created:
		env.ID = m.ID
	case domain.Joined:
		env.ID = m.ID
	case domain.NewPeer:
		env.ID = m.ID
	case domain.Offer:
		env.To, env.From, env.RoomID = m.To, m.From, m.RoomID
		env.OfferFingerprint = m.Fingerprint
		sdp, err := json.Marshal(m.SDP)
		if err != nil {
			return nil, err
		}
		env.SDP = sdp
	case domain.Answer:
		env.To, env.From, env.RoomID = m.To, m.From, m.RoomID
		sdp, err := json.Marshal(m.SDP)
		if err != nil {
			return nil, err
		}
		env.SDP = sdp
	case domain.ICE:
		env.To, env.From, env.RoomID = m.To, m.From, m.RoomID
		candidate := m.Candidate
		env.Candidate = &candidate
	case domain.Playback:
		if !domain.IsPlayback(m.Action) {
			return nil, fmt.Errorf("%w: playback action %q", domain.ErrMalformed, m.Action)
		}
		env.RoomID = m.RoomID
		if !m.Untimed {
			t := m.Time
			env.Time = &t
		}
	case domain.ScreenStopped:
		env.RoomID = m.RoomID
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}

	return json.Marshal(env)
}

// Decode parses a wire message into its variant, rejecting messages that
// lack the fields their type requires. When scope is non-empty, messages
// carrying a different scope return ErrForeignScope.
func Decode(scope string, data []byte) (domain.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	if scope != "" && env.Scope != scope {
		return nil, ErrForeignScope
	}

	switch env.Type {
	case domain.MsgCreate:
		if env.RoomID == "" {
			return nil, missing(env.Type, "roomId")
		}
		return domain.Create{RoomID: env.RoomID}, nil

	case domain.MsgJoin:
		if env.RoomID == "" {
			return nil, missing(env.Type, "roomId")
		}
		return domain.Join{RoomID: env.RoomID}, nil

	case domain.MsgCreated, domain.MsgJoined, domain.MsgNewPeer:
		if env.ID == "" {
			return nil, missing(env.Type, "id")
		}
		switch env.Type {
		case domain.MsgCreated:
			return domain.Created{ID: env.ID}, nil
		case domain.MsgJoined:
			return domain.Joined{ID: env.ID}, nil
		default:
			return domain.NewPeer{ID: env.ID}, nil
		}

	case domain.MsgOffer:
		if env.From == "" {
			return nil, missing(env.Type, "from")
		}
		sdp, err := decodeSDP(env.SDP, domain.SDPTypeOffer)
		if err != nil {
			return nil, err
		}
		return domain.Offer{
			To:          env.To,
			From:        env.From,
			RoomID:      env.RoomID,
			SDP:         sdp,
			Fingerprint: env.OfferFingerprint,
		}, nil

	case domain.MsgAnswer:
		if env.From == "" {
			return nil, missing(env.Type, "from")
		}
		sdp, err := decodeSDP(env.SDP, domain.SDPTypeAnswer)
		if err != nil {
			return nil, err
		}
		return domain.Answer{To: env.To, From: env.From, RoomID: env.RoomID, SDP: sdp}, nil

	case domain.MsgICE:
		if env.Candidate == nil {
			return nil, missing(env.Type, "candidate")
		}
		return domain.ICE{To: env.To, From: env.From, RoomID: env.RoomID, Candidate: *env.Candidate}, nil

	case domain.MsgPlay, domain.MsgPause, domain.MsgSeek:
		p := domain.Playback{Action: env.Type, RoomID: env.RoomID, Untimed: env.Time == nil}
		if env.Time != nil {
			p.Time = *env.Time
		}
		return p, nil

	case domain.MsgScreenStopped:
		return domain.ScreenStopped{RoomID: env.RoomID}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

// decodeSDP accepts the description either as {type, sdp} or as a bare SDP string.
func decodeSDP(raw json.RawMessage, want domain.SDPType) (domain.SessionDescription, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.SessionDescription{}, missing(domain.MessageType(want), "sdp")
	}

	var desc domain.SessionDescription
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		desc = domain.SessionDescription{Type: want, SDP: bare}
	} else if err := json.Unmarshal(raw, &desc); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: sdp: %v", domain.ErrMalformed, err)
	}

	if desc.SDP == "" {
		return domain.SessionDescription{}, missing(domain.MessageType(want), "sdp")
	}
	if desc.Type == "" {
		desc.Type = want
	}
	if desc.Type != want {
		return domain.SessionDescription{}, fmt.Errorf("%w: sdp type %q in %s", domain.ErrMalformed, desc.Type, want)
	}
	return desc, nil
}

func missing(t domain.MessageType, field string) error {
	return fmt.Errorf("%w: %s requires %s", domain.ErrMalformed, t, field)
}
