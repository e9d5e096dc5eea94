package chessdto

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

// Inbound command types.
const (
	CommandJoin   = "join"
	CommandMove   = "move"
	CommandResign = "resign"
)

// Command is one decoded inbound frame. Concrete types are JoinCommand,
// MoveCommand and ResignCommand.
type Command interface {
	Type() string
	Game() string
	// ClaimedUser is the userId sent by the client, empty when omitted.
	ClaimedUser() string
}

type JoinCommand struct {
	GameID   string `json:"gameId" validate:"required,gameid"`
	UserID   string `json:"userId,omitempty" validate:"omitempty,max=128"`
	Spectate bool   `json:"spectate,omitempty"`
}

func (JoinCommand) Type() string          { return CommandJoin }
func (c JoinCommand) Game() string        { return c.GameID }
func (c JoinCommand) ClaimedUser() string { return c.UserID }

type MoveCommand struct {
	GameID    string `json:"gameId" validate:"required,gameid"`
	UserID    string `json:"userId,omitempty" validate:"omitempty,max=128"`
	From      string `json:"from" validate:"required,square"`
	To        string `json:"to" validate:"required,square,nefield=From"`
	Promotion string `json:"promotion,omitempty" validate:"omitempty,oneof=q r b n"`
}

func (MoveCommand) Type() string          { return CommandMove }
func (c MoveCommand) Game() string        { return c.GameID }
func (c MoveCommand) ClaimedUser() string { return c.UserID }

type ResignCommand struct {
	GameID string `json:"gameId" validate:"required,gameid"`
	UserID string `json:"userId,omitempty" validate:"omitempty,max=128"`
}

func (ResignCommand) Type() string          { return CommandResign }
func (c ResignCommand) Game() string        { return c.GameID }
func (c ResignCommand) ClaimedUser() string { return c.UserID }

// moveFrame also accepts the nested {"move":{from,to,promotion}} form used by older web clients.
type moveFrame struct {
	MoveCommand
	Move *struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Promotion string `json:"promotion"`
	} `json:"move,omitempty"`
}

var (
	squareRe = regexp.MustCompile(`^[a-h][1-8]$`)
	gameIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("square", func(fl validator.FieldLevel) bool {
			return squareRe.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("gameid", func(fl validator.FieldLevel) bool {
			return gameIDRe.MatchString(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// ValidGameID reports whether id is an acceptable gameId.
func ValidGameID(id string) bool { return gameIDRe.MatchString(id) }

// DecodeCommand parses and validates one inbound frame. Every failure wraps ErrMalformed.
func DecodeCommand(raw []byte) (Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var cmd Command
	switch strings.TrimSpace(head.Type) {
	case CommandJoin:
		var c JoinCommand
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		cmd = c
	case CommandMove:
		var f moveFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		c := f.MoveCommand
		if f.Move != nil && c.From == "" && c.To == "" {
			c.From, c.To, c.Promotion = f.Move.From, f.Move.To, f.Move.Promotion
		}
		c.From = strings.ToLower(strings.TrimSpace(c.From))
		c.To = strings.ToLower(strings.TrimSpace(c.To))
		c.Promotion = strings.ToLower(strings.TrimSpace(c.Promotion))
		cmd = c
	case CommandResign:
		var c ResignCommand
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		cmd = c
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, head.Type)
	}

	if err := validatorInstance().Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return cmd, nil
}
