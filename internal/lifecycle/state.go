package lifecycle

import "strings"

// State is the single application-wide phase of the client.
type State int

const (
	StateLoading State = iota
	StateMainMenu
	StateLeaderboard
	StateAchievements
	StateInGame
	StateGameOver
	StateError
	StateDifficultySelectOpen
	StateDifficultySelectClose
	StateSaving
	StateExiting
)

var stateNames = [...]string{
	StateLoading:               "Loading",
	StateMainMenu:              "MainMenu",
	StateLeaderboard:           "Leaderboard",
	StateAchievements:          "Achievements",
	StateInGame:                "InGame",
	StateGameOver:              "GameOver",
	StateError:                 "Error",
	StateDifficultySelectOpen:  "DifficultySelectOpen",
	StateDifficultySelectClose: "DifficultySelectClose",
	StateSaving:                "Saving",
	StateExiting:               "Exiting",
}

// String returns the display name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	return s >= 0 && int(s) < len(stateNames)
}

// ParseState resolves a state from its display name, ignoring case.
func ParseState(name string) (State, bool) {
	name = strings.TrimSpace(name)
	for i, candidate := range stateNames {
		if strings.EqualFold(candidate, name) {
			return State(i), true
		}
	}
	return StateLoading, false
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
