package interest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalid wraps every rejection of an interest config. The app refuses to
// open a connection when it sees one.
var ErrInvalid = errors.New("interest: invalid config")

// ID is an identifier that may be written as a JSON number or string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a number or string, got %s", b)
	}
	*id = ID(n.String())
	return nil
}

// Numeric reports whether the id is a plain non-negative integer.
func (id ID) Numeric() bool { return isNumeric(string(id)) }

// Raw is the interest config as written by the user, before validation.
type Raw struct {
	Me                      ID                   `json:"me"`
	KillAnnounce            []string             `json:"killAnnounce"`
	HeadshotAnnounce        []ID                 `json:"headshotAnnounce"`
	RageQuitAnnounceSeconds *float64             `json:"rageQuitAnnounceSeconds"`
	Outfit                  map[string]RawOutfit `json:"outfit"`
	Player                  map[string]RawPlayer `json:"player"`
	World                   map[string]RawWorld  `json:"world"`
	StreakStep              *int                 `json:"streakStep"`
	TimeGapSeconds          *float64             `json:"timeGapSeconds"`
	BaseWindowSeconds       *float64             `json:"baseWindowSeconds"`
}

type RawOutfit struct {
	BaseCapture json.RawMessage `json:"baseCapture"`
	BaseDefend  json.RawMessage `json:"baseDefend"`
	KillPlayer  []ID            `json:"killPlayer"`
}

type RawPlayer struct {
	KillPlayer   []ID `json:"killPlayer"`
	DeathPlayer  []ID `json:"deathPlayer"`
	KillVehicle  []ID `json:"killVehicle"`
	DeathVehicle []ID `json:"deathVehicle"`
}

type RawWorld struct {
	Metagame bool `json:"metagame"`
}

// Parse reads interest JSON. The text may be a URL fragment: a leading '#'
// is dropped and, when the text is not valid JSON as is, it is
// percent-decoded and parsed again.
func Parse(text string) (*Raw, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "#")
	if text == "" {
		return nil, fmt.Errorf("%w: empty config", ErrInvalid)
	}

	raw, err := parseJSON(text)
	if err == nil {
		return raw, nil
	}
	decoded, derr := url.PathUnescape(text)
	if derr != nil || decoded == text {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	raw, err = parseJSON(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return raw, nil
}

func parseJSON(text string) (*Raw, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	var raw Raw
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after config object")
	}
	return &raw, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
