package room

import (
	"time"
)

// PlayerView is a player as seen by one recipient: role and word are
// populated only for the recipient's own entry, or for everyone once
// the room reaches GameOver (§8 property 6, §9 "Projection in snapshots").
type PlayerView struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	IsAlive      bool   `json:"is_alive"`
	IsReady      bool   `json:"is_ready"`
	IsHost       bool   `json:"is_host"`
	Role         Role   `json:"role,omitempty"`
	Word         string `json:"word,omitempty"`
	Connected    bool   `json:"connected"`
}

// Snapshot is the projected, per-recipient view of a Room sent as a
// state_update (§6). It is the only shape other components ever see —
// the canonical *Room stays inside the engine.
type Snapshot struct {
	RoomID  string       `json:"room_id"`
	State   Phase        `json:"state"`
	Players []PlayerView `json:"players"`
	HostID  string       `json:"host_id"`
	RoundNo int          `json:"round_no"`

	TurnPlayerID string `json:"turn_player_id,omitempty"`

	Descriptions []Description `json:"descriptions"`
	ChatLog      []ChatMessage `json:"chat_log"`

	LastEliminatedID       string `json:"last_eliminated_id,omitempty"`
	NoEliminationThisRound bool   `json:"no_elimination_this_round"`
	Winner                 string `json:"winner,omitempty"`

	MyWord string `json:"my_word,omitempty"`
	MyRole Role   `json:"my_role,omitempty"`

	LastActivityAt time.Time `json:"last_activity_at"`
	Config         Config    `json:"config"`
}

// ProjectSnapshot builds the Snapshot recipient forPlayerID is entitled
// to see: everyone's public fields, but role/word only for themself
// (surfaced redundantly as MyRole/MyWord for client convenience) or, once
// the game is over, for every player (§4.1 state 6, §8 property 6).
func ProjectSnapshot(r *Room, forPlayerID string) Snapshot {
	reveal := r.State == PhaseGameOver

	views := make([]PlayerView, 0, len(r.Players))
	var myWord string
	var myRole Role
	for _, p := range r.Players {
		v := PlayerView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			IsAlive:     p.IsAlive,
			IsReady:     p.IsReady,
			IsHost:      p.IsHost,
			Connected:   p.Connected,
		}
		if reveal || p.ID == forPlayerID {
			v.Role = p.Role
			v.Word = p.Word
		}
		if p.ID == forPlayerID {
			myWord = p.Word
			myRole = p.Role
		}
		views = append(views, v)
	}

	var turnPlayerID string
	if r.State == PhaseDescribe && r.TurnIndex >= 0 && r.TurnIndex < len(r.Players) {
		turnPlayerID = r.Players[r.TurnIndex].ID
	}

	descriptions := make([]Description, 0, len(r.Descriptions))
	for _, d := range r.Descriptions {
		descriptions = append(descriptions, d)
	}

	return Snapshot{
		RoomID:                 r.ID,
		State:                  r.State,
		Players:                views,
		HostID:                 r.HostID,
		RoundNo:                r.RoundNo,
		TurnPlayerID:           turnPlayerID,
		Descriptions:           descriptions,
		ChatLog:                append([]ChatMessage(nil), r.ChatLog...),
		LastEliminatedID:       r.LastEliminatedID,
		NoEliminationThisRound: r.NoEliminationThisRound,
		Winner:                 r.Winner,
		MyWord:                 myWord,
		MyRole:                 myRole,
		LastActivityAt:         r.LastActivityAt,
		Config:                 r.Config,
	}
}
