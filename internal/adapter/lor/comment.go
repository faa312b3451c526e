package lor

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// Comment is a single comment found in a user's search results.
type Comment struct {
	Topic  string
	Link   string
	Author string
	Posted time.Time

	text     string
	bodyHTML string
	bodyMD   string
}

func (c Comment) Timestamp() time.Time {
	return c.Posted
}

func (c Comment) Text() string {
	return c.text
}

func (c Comment) Summary() string {
	return fmt.Sprintf("%s commented in [%s](%s):\n\n%s", c.Author, c.Topic, c.Link, c.bodyMD)
}

func (c Comment) HTML() string {
	return fmt.Sprintf("<b>%s</b> commented in <a href=\"%s\">%s</a>:<br/>%s",
		html.EscapeString(c.Author),
		html.EscapeString(c.Link),
		html.EscapeString(c.Topic),
		c.bodyHTML,
	)
}

func (c Comment) String() string {
	return fmt.Sprintf("%s posted comment: '%s'", c.Author, strings.TrimSpace(c.text))
}
