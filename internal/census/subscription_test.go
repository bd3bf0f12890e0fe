package census

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewSubscriptionNormalizes(t *testing.T) {
	t.Parallel()
	s := NewSubscription([]string{"17", " 1", "17", ""}, []string{"FacilityControl"}, nil, []string{"Death"})
	if got, want := s.Worlds, []string{"1", "17"}; !equalStrings(got, want) {
		t.Fatalf("worlds = %v, want %v", got, want)
	}
	if s.Characters != nil {
		t.Fatalf("characters = %v, want nil", s.Characters)
	}
	if !s.HasWorldAxis() || s.HasCharacterAxis() || s.Empty() {
		t.Fatalf("axes = world:%v char:%v empty:%v", s.HasWorldAxis(), s.HasCharacterAxis(), s.Empty())
	}
}

func TestEncodeSubscribeOneFramePerAxis(t *testing.T) {
	t.Parallel()
	s := NewSubscription([]string{"all"}, []string{"FacilityControl"}, []string{"5428059164954198113"}, []string{"Death"})
	frames, err := EncodeSubscribe(s)
	if err != nil {
		t.Fatalf("EncodeSubscribe: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	var world map[string]any
	if err := json.Unmarshal(frames[0], &world); err != nil {
		t.Fatal(err)
	}
	if world["service"] != "event" || world["action"] != "subscribe" {
		t.Fatalf("world frame = %s", frames[0])
	}
	if _, ok := world["characters"]; ok {
		t.Fatalf("world frame carries characters: %s", frames[0])
	}
	var chars map[string]any
	if err := json.Unmarshal(frames[1], &chars); err != nil {
		t.Fatal(err)
	}
	if _, ok := chars["worlds"]; ok {
		t.Fatalf("character frame carries worlds: %s", frames[1])
	}

	onlyChars := NewSubscription(nil, nil, []string{"1"}, []string{"Death"})
	frames, _ = EncodeSubscribe(onlyChars)
	if len(frames) != 1 {
		t.Fatalf("character-only frames = %d, want 1", len(frames))
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []Subscription{
		NewSubscription([]string{"1", "17"}, []string{"FacilityControl", "MetagameEvent"}, []string{"42", "7"}, []string{"Death", "VehicleDestroy"}),
		NewSubscription(nil, nil, []string{"5428059164954198113"}, []string{"Death"}),
		NewSubscription([]string{"all"}, []string{"FacilityControl"}, nil, nil),
	}
	for _, want := range cases {
		frames, err := EncodeSubscribe(want)
		if err != nil {
			t.Fatalf("EncodeSubscribe: %v", err)
		}
		got, err := DecodeSubscribe(frames)
		if err != nil {
			t.Fatalf("DecodeSubscribe: %v", err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip = %v, want %v", got, want)
		}
	}
}

func TestDecodeSubscribeServerEcho(t *testing.T) {
	t.Parallel()
	want := NewSubscription([]string{"1"}, []string{"FacilityControl"}, nil, nil)
	echo := []byte(`{"subscription":{"eventNames":["FacilityControl"],"logicalAndCharactersWithWorlds":false,"worlds":["1"]}}`)
	got, err := DecodeSubscribe([][]byte{echo})
	if err != nil {
		t.Fatalf("DecodeSubscribe: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("echo = %v, want %v", got, want)
	}
}

func TestDecodeSubscribeRejectsOtherActions(t *testing.T) {
	t.Parallel()
	_, err := DecodeSubscribe([][]byte{ClearSubscribe()})
	if !errors.Is(err, ErrBadSubscribeFrame) {
		t.Fatalf("err = %v, want ErrBadSubscribeFrame", err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
