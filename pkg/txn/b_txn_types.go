package txn

import (
	"strings"

	"github.com/pkg/errors"
)

type State int

const (
	Active State = iota
	Committing
	Committed
	Aborted
	Discarded
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

func (s State) IsTerminal() bool {
	return s == Committed || s == Aborted || s == Discarded
}

// Isolation selects how a command transaction is validated at commit.
type Isolation int

const (
	// Serializable refuses a commit when anything the transaction read was
	// overwritten after it started.
	Serializable Isolation = iota
	// Optimistic skips validation: snapshot reads, last committer wins.
	Optimistic
)

func ParseIsolation(s string) (Isolation, error) {
	switch strings.ToLower(s) {
	case "", "serializable":
		return Serializable, nil
	case "optimistic":
		return Optimistic, nil
	default:
		return Serializable, errors.Errorf("unknown isolation %q", s)
	}
}

func (i Isolation) String() string {
	if i == Optimistic {
		return "optimistic"
	}
	return "serializable"
}

func (i *Isolation) UnmarshalText(text []byte) error {
	parsed, err := ParseIsolation(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

func (i Isolation) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}
