package chessdto

import (
	"errors"
	"testing"
)

func TestDecodeCommandVariants(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"join","gameId":"game-1","userId":"alice"}`))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if j, ok := cmd.(JoinCommand); !ok || j.GameID != "game-1" || j.ClaimedUser() != "alice" {
		t.Fatalf("unexpected join: %#v", cmd)
	}

	cmd, err = DecodeCommand([]byte(`{"type":"move","gameId":"g1","from":"E7","to":"e8","promotion":"Q"}`))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	m := cmd.(MoveCommand)
	if m.From != "e7" || m.To != "e8" || m.Promotion != "q" {
		t.Fatalf("move not normalized: %#v", m)
	}

	cmd, err = DecodeCommand([]byte(`{"type":"resign","gameId":"g1"}`))
	if err != nil || cmd.Type() != CommandResign || cmd.Game() != "g1" {
		t.Fatalf("resign: %v %#v", err, cmd)
	}
}

func TestDecodeNestedMove(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"move","gameId":"g1","userId":"u","move":{"from":"e2","to":"e4"}}`))
	if err != nil {
		t.Fatalf("nested move: %v", err)
	}
	if m := cmd.(MoveCommand); m.From != "e2" || m.To != "e4" {
		t.Fatalf("nested move not lifted: %#v", m)
	}
}

func TestDecodeCommandMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"dance","gameId":"g1"}`,
		`{"gameId":"g1"}`,
		`{"type":"join"}`,
		`{"type":"join","gameId":"has space"}`,
		`{"type":"move","gameId":"g1","from":"e9","to":"e4"}`,
		`{"type":"move","gameId":"g1","from":"e2","to":"e2"}`,
		`{"type":"move","gameId":"g1","from":"e7","to":"e8","promotion":"k"}`,
		`{"type":"move","gameId":"g1","from":42,"to":"e4"}`,
		`{"type":"resign","gameId":""}`,
	}
	for _, raw := range cases {
		if _, err := DecodeCommand([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestValidGameID(t *testing.T) {
	if !ValidGameID("3f2a0c1e-aaaa-bbbb-cccc-0123456789ab") {
		t.Fatalf("uuid should be a valid game id")
	}
	if ValidGameID("") || ValidGameID("../etc") {
		t.Fatalf("invalid ids accepted")
	}
}
