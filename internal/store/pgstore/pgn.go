package pgstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-pvp-server/internal/domain"
)

// BuildPGN renders a finished session as PGN text from its SAN move log.
func BuildPGN(g *domain.GameSession) string {
	if g == nil {
		return ""
	}
	result := pgnResult(g)
	var b strings.Builder
	date := g.UpdatedAt
	if g.EndTime != nil {
		date = *g.EndTime
	}
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Cheese PvP\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(g.ID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.PlayerName(domain.White))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.PlayerName(domain.Black))))
	if strings.TrimSpace(g.Reason) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(g.Reason)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(g.MoveLog); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, sanOrUCI(g.MoveLog[i])))
		if i+1 < len(g.MoveLog) {
			b.WriteString(" ")
			b.WriteString(sanOrUCI(g.MoveLog[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func pgnResult(g *domain.GameSession) string {
	switch {
	case g.Status != domain.StatusFinished:
		return "*"
	case g.IsDraw:
		return "1/2-1/2"
	case g.WinnerID != "" && g.WinnerID == g.WhiteID:
		return "1-0"
	case g.WinnerID != "" && g.WinnerID == g.BlackID:
		return "0-1"
	default:
		return "*"
	}
}

func sanOrUCI(m domain.Move) string {
	if s := strings.TrimSpace(m.SAN); s != "" {
		return s
	}
	return m.UCI()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
