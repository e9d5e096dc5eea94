package pgstore

import (
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-pvp-server/internal/domain"
)

func TestBuildPGNDecisive(t *testing.T) {
	end := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	g := &domain.GameSession{
		ID: "g1", WhiteID: "alice", WhiteName: "Alice", BlackID: "bob", BlackName: "Bo\"b",
		Status: domain.StatusFinished, WinnerID: "bob", LoserID: "alice", Reason: domain.ReasonCheckmate,
		EndTime: &end,
		MoveLog: []domain.Move{
			{From: "f2", To: "f3", SAN: "f3"}, {From: "e7", To: "e5", SAN: "e5"},
			{From: "g2", To: "g4", SAN: "g4"}, {From: "d8", To: "h4", SAN: "Qh4#"},
		},
	}
	pgn := BuildPGN(g)
	for _, want := range []string{
		"[Date \"2025.03.09\"]",
		"[Black \"Bo'b\"]",
		"[Termination \"checkmate\"]",
		"[Result \"0-1\"]",
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestBuildPGNDrawAndFallbacks(t *testing.T) {
	g := &domain.GameSession{
		ID: "g2", WhiteID: "alice", BlackID: "bob", Status: domain.StatusFinished, IsDraw: true,
		UpdatedAt: time.Now(),
		MoveLog:   []domain.Move{{From: "e2", To: "e4"}},
	}
	pgn := BuildPGN(g)
	if !strings.Contains(pgn, "[White \"White Player\"]") || !strings.Contains(pgn, "1. e2e4 1/2-1/2") {
		t.Fatalf("unexpected pgn:\n%s", pgn)
	}
	if BuildPGN(nil) != "" {
		t.Fatalf("nil game must render empty")
	}
}

func TestPGNResultInProgress(t *testing.T) {
	if r := pgnResult(&domain.GameSession{Status: domain.StatusPlaying}); r != "*" {
		t.Fatalf("expected *, got %q", r)
	}
}
