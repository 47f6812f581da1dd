// Package subject identifies who owns usage: a single user or an
// organization, never both.
package subject

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidSubject = errors.New("invalid_subject")

type Type string

const (
	TypeUser         Type = "user"
	TypeOrganization Type = "organization"
)

type Subject struct {
	Type Type
	ID   snowflake.ID
}

func User(id snowflake.ID) Subject {
	return Subject{Type: TypeUser, ID: id}
}

func Organization(id snowflake.ID) Subject {
	return Subject{Type: TypeOrganization, ID: id}
}

func (s Subject) IsOrganization() bool {
	return s.Type == TypeOrganization
}

func (s Subject) Validate() error {
	switch s.Type {
	case TypeUser, TypeOrganization:
	default:
		return ErrInvalidSubject
	}
	if s.ID == 0 {
		return ErrInvalidSubject
	}
	return nil
}

// Key is a stable string form, used for redis keys and logs.
func (s Subject) Key() string {
	return fmt.Sprintf("%s:%s", s.Type, s.ID.String())
}

func ParseType(raw string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeUser:
		return TypeUser, nil
	case TypeOrganization:
		return TypeOrganization, nil
	default:
		return "", ErrInvalidSubject
	}
}
