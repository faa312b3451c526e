package domain

type CommandKind int

const (
	CommandLink CommandKind = iota + 1
	CommandUnlink
	CommandUnlinkAll
)

func (k CommandKind) String() string {
	switch k {
	case CommandLink:
		return "link"
	case CommandUnlink:
		return "unlink"
	case CommandUnlinkAll:
		return "unlinkall"
	default:
		return "unknown"
	}
}

// Command is a link-set mutation requested from an upstream.
// Link is set for CommandLink and CommandUnlink; UpstreamKind and UserID are
// set for every kind.
type Command struct {
	Kind         CommandKind
	Link         Link
	UpstreamKind string
	UserID       string
}

func LinkCommand(candidate Link) Command {
	return Command{
		Kind:         CommandLink,
		Link:         candidate,
		UpstreamKind: candidate.UpstreamKind,
		UserID:       candidate.UserID,
	}
}

func UnlinkCommand(candidate Link) Command {
	return Command{
		Kind:         CommandUnlink,
		Link:         candidate,
		UpstreamKind: candidate.UpstreamKind,
		UserID:       candidate.UserID,
	}
}

func UnlinkAllCommand(upstreamKind, userID string) Command {
	return Command{
		Kind:         CommandUnlinkAll,
		UpstreamKind: upstreamKind,
		UserID:       userID,
	}
}
