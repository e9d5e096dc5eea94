package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-pvp-server/internal/domain"
)

// ErrCorruptLog is returned when a stored move log no longer replays.
var ErrCorruptLog = errors.New("move log does not replay")

var uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// Result is the position reached after a replay or an applied move.
type Result struct {
	// Before is the FEN the move was applied to.
	Before    string
	FEN       string
	Turn      domain.Color
	Move      domain.Move
	Checkmate bool
	Draw      bool
	Reason    string
}

// Terminal reports whether the position ends the game.
func (r *Result) Terminal() bool { return r != nil && (r.Checkmate || r.Draw) }

// Chess implements the rules port on top of corentings/chess. Positions are
// always rebuilt from the move log so the stored FEN never drifts from it.
type Chess struct{}

func New() *Chess { return &Chess{} }

// Replay rebuilds the position reached by moves from the initial position.
func (c *Chess) Replay(moves []domain.Move) (*Result, error) {
	game, err := reconstruct(moves)
	if err != nil {
		return nil, err
	}
	return evaluate(game, domain.Move{}), nil
}

// Apply validates mv against the position reached by history and returns the new position.
func (c *Chess) Apply(history []domain.Move, mv domain.Move) (*Result, error) {
	game, err := reconstruct(history)
	if err != nil {
		return nil, err
	}
	if game.Outcome() != nchess.NoOutcome {
		return nil, fmt.Errorf("%w: game already decided", domain.ErrIllegalMove)
	}
	before := game.FEN()
	pos := game.Position()

	var pushed bool
	for _, uci := range candidates(mv) {
		if !uciPattern.MatchString(uci) {
			continue
		}
		if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err == nil {
			pushed = true
			break
		}
	}
	if !pushed {
		return nil, fmt.Errorf("%w: %s", domain.ErrIllegalMove, mv.UCI())
	}

	last := lastMove(game)
	if last == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrIllegalMove, mv.UCI())
	}
	applied := domain.Move{
		From: last.S1().String(),
		To:   last.S2().String(),
		SAN:  nchess.AlgebraicNotation{}.Encode(pos, last),
	}
	uci := nchess.UCINotation{}.Encode(pos, last)
	if len(uci) == 5 {
		applied.Promotion = uci[4:]
	}
	res := evaluate(game, applied)
	res.Before = before
	return res, nil
}

// candidates lists the UCI strings tried for mv. A promotion sent along a
// non-promoting move is ignored and a bare pawn push to the last rank queens.
func candidates(mv domain.Move) []string {
	base := strings.ToLower(strings.TrimSpace(mv.From) + strings.TrimSpace(mv.To))
	promo := strings.ToLower(strings.TrimSpace(mv.Promotion))
	if promo != "" {
		return []string{base + promo, base}
	}
	out := []string{base}
	if len(base) == 4 && (base[3] == '8' || base[3] == '1') {
		out = append(out, base+"q")
	}
	return out
}

func reconstruct(moves []domain.Move) (*nchess.Game, error) {
	game := nchess.NewGame()
	for i, mv := range moves {
		if err := game.PushNotationMove(mv.UCI(), nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: ply %d (%s): %v", ErrCorruptLog, i+1, mv.UCI(), err)
		}
	}
	return game, nil
}

func evaluate(game *nchess.Game, applied domain.Move) *Result {
	// repetition and the fifty-move rule are claimable in the library; the
	// server ends the game as soon as either applies.
	if game.Outcome() == nchess.NoOutcome {
		for _, m := range game.EligibleDraws() {
			if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
				if err := game.Draw(m); err == nil {
					break
				}
			}
		}
	}
	res := &Result{
		FEN:  game.FEN(),
		Turn: colorFrom(game.Position().Turn()),
		Move: applied,
	}
	switch game.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		if game.Method() == nchess.Checkmate {
			res.Checkmate = true
			res.Reason = domain.ReasonCheckmate
		}
	case nchess.Draw:
		res.Draw = true
		res.Reason = drawReason(game.Method())
	}
	return res
}

func drawReason(m nchess.Method) string {
	switch m {
	case nchess.Stalemate:
		return domain.ReasonStalemate
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return domain.ReasonRepetition
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return domain.ReasonFiftyMoveRule
	case nchess.InsufficientMaterial:
		return domain.ReasonInsufficientMaterial
	default:
		return domain.ReasonDraw
	}
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorFrom(c nchess.Color) domain.Color {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}
