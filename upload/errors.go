package upload

import (
	"github.com/pkg/errors"
)

// Kind classifies why a run failed. Every kind is fatal for the run.
type Kind int

const (
	KindUnknown Kind = iota
	ClientInitError
	AuthError
	SpaceError
	FileNotFoundError
	FileReadError
	UploadError
)

var kindNames = map[Kind]string{
	KindUnknown:       "error",
	ClientInitError:   "client init error",
	AuthError:         "auth error",
	SpaceError:        "space error",
	FileNotFoundError: "file not found",
	FileReadError:     "file read error",
	UploadError:       "upload error",
}

func (k Kind) String() string {
	return kindNames[k]
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fail tags err with kind. A nil err stays nil.
func Fail(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindUnknown
}
