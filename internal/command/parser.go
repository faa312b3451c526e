// Package command parses link management commands out of chat text.
//
// Grammar (tokens are case-sensitive, separated by whitespace):
//
//	link <adapterKind> <specifier>
//	unlink <adapterKind> <specifier>
//	unlinkall
package command

import (
	"errors"
	"fmt"
	"strings"

	"acc_linker/internal/domain"
)

var (
	ErrUnknownAdapter = errors.New("unknown adapter kind")
	ErrMalformed      = errors.New("malformed command")
)

// Origin identifies where a chat message came from.
type Origin struct {
	UpstreamKind string
	ChatID       string
	UserID       string
}

// Parse turns text into a command. It returns (nil, nil) when the leading
// token is not a command, and an error wrapping ErrUnknownAdapter or
// ErrMalformed when the command should be dropped with a warning.
func Parse(origin Origin, text string) (*domain.Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, nil
	}

	switch fields[0] {
	case "link":
		candidate, err := candidateLink(origin, fields[1:])
		if err != nil {
			return nil, fmt.Errorf("link: %w", err)
		}
		cmd := domain.LinkCommand(candidate)
		return &cmd, nil
	case "unlink":
		candidate, err := candidateLink(origin, fields[1:])
		if err != nil {
			return nil, fmt.Errorf("unlink: %w", err)
		}
		cmd := domain.UnlinkCommand(candidate)
		return &cmd, nil
	case "unlinkall":
		cmd := domain.UnlinkAllCommand(origin.UpstreamKind, origin.UserID)
		return &cmd, nil
	default:
		return nil, nil
	}
}

func candidateLink(origin Origin, args []string) (domain.Link, error) {
	if len(args) < 2 {
		return domain.Link{}, fmt.Errorf("%w: want <adapterKind> <specifier>", ErrMalformed)
	}

	kind, err := domain.ParseAdapterKind(args[0])
	if err != nil {
		return domain.Link{}, fmt.Errorf("%w: %q", ErrUnknownAdapter, args[0])
	}

	return domain.Link{
		UpstreamKind: origin.UpstreamKind,
		ChatID:       origin.ChatID,
		UserID:       origin.UserID,
		AdapterKind:  kind,
		LinkedUserID: args[1],
	}, nil
}
